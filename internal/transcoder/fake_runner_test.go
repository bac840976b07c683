package transcoder

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeExitError mimics *exec.ExitError for exit-code extraction.
type fakeExitError struct {
	code int
}

func (e *fakeExitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *fakeExitError) ExitCode() int { return e.code }

type fakeCall struct {
	name string
	args []string
}

// fakeRunner replays canned output instead of starting a real process.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []fakeCall
	output   string
	waitErr  error
	startErr error
	// onStart runs before the process "starts", e.g. to write the output file.
	onStart func(name string, args []string)
}

func (f *fakeRunner) Start(ctx context.Context, name string, args ...string) (Process, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{name: name, args: append([]string(nil), args...)})
	f.mu.Unlock()

	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.onStart != nil {
		f.onStart(name, args)
	}
	return &fakeProcess{ctx: ctx, out: strings.NewReader(f.output), waitErr: f.waitErr}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return fakeCall{}
	}
	return f.calls[len(f.calls)-1]
}

type fakeProcess struct {
	ctx     context.Context
	out     io.Reader
	waitErr error
}

func (p *fakeProcess) Output() io.Reader { return p.out }

func (p *fakeProcess) Wait() error {
	if p.waitErr != nil {
		return p.waitErr
	}
	if err := p.ctx.Err(); err != nil {
		return &fakeExitError{code: -1}
	}
	return nil
}
