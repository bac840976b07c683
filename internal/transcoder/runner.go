package transcoder

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Runner starts external tools. ExecRunner is the production implementation;
// tests substitute a fake.
type Runner interface {
	Start(ctx context.Context, name string, args ...string) (Process, error)
}

// Process is a started tool. Output yields its combined stdout and stderr
// until the process exits. Wait must be called exactly once.
type Process interface {
	Output() io.Reader
	Wait() error
}

// ExecRunner runs tools with os/exec. The process is killed if ctx is canceled.
type ExecRunner struct{}

// Start launches name with args, wiring stdout and stderr to a single pipe.
func (ExecRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	// The child holds its own copy of the write end; closing ours lets the
	// reader see EOF once the child exits.
	_ = pw.Close()

	return &execProcess{cmd: cmd, out: pr}, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	out  *os.File
	once sync.Once
	err  error
}

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Wait() error {
	p.once.Do(func() {
		// Drain anything unread so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, p.out)
		p.err = p.cmd.Wait()
		_ = p.out.Close()
	})
	return p.err
}
