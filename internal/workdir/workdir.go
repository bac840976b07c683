// Package workdir manages the per-job scratch directories that hold an
// uploaded source clip and its encoded artifact.
//
// Every Workspace lives in its own directory under <root>/jobs and is removed
// as a unit by Close. Sweep clears directories left behind by a crash.
package workdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"wa-video-helper/internal/logging"
)

const (
	jobsDirName    = "jobs"
	outputFileName = "output.mp4"
	sourceBaseName = "source"
)

// ErrInsufficientSpace is returned when the work volume is too full to accept
// another upload.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// Manager creates workspaces under a root directory.
type Manager struct {
	root     string
	jobsDir  string
	minFree  uint64
	freeFunc func(path string) (uint64, error)
}

// NewManager prepares <root>/jobs. minFreeBytes is the space that must remain
// free after an upload; 0 disables the check.
func NewManager(root string, minFreeBytes uint64) (*Manager, error) {
	jobsDir := filepath.Join(root, jobsDirName)
	if err := os.MkdirAll(jobsDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", jobsDir, err)
	}
	return &Manager{
		root:     root,
		jobsDir:  jobsDir,
		minFree:  minFreeBytes,
		freeFunc: diskFree,
	}, nil
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Root returns the work directory.
func (m *Manager) Root() string {
	return m.root
}

// MinFreeBytes returns the configured free-space reserve.
func (m *Manager) MinFreeBytes() uint64 {
	return m.minFree
}

// FreeBytes reports the free space on the work volume.
func (m *Manager) FreeBytes() (uint64, error) {
	free, err := m.freeFunc(m.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read disk usage for %s: %w", m.root, err)
	}
	return free, nil
}

// CheckSpace fails with ErrInsufficientSpace if writing need more bytes would
// leave less than the configured reserve.
func (m *Manager) CheckSpace(need uint64) error {
	if m.minFree == 0 {
		return nil
	}
	free, err := m.FreeBytes()
	if err != nil {
		// Unknown usage is not a reason to refuse work.
		logging.Warn("Skipping free space check: %v", err)
		return nil
	}
	if free < need || free-need < m.minFree {
		return fmt.Errorf("%w: %d MB free, %d MB reserved", ErrInsufficientSpace,
			free/(1024*1024), m.minFree/(1024*1024))
	}
	return nil
}

// New creates an empty workspace for an upload named originalName. The source
// file keeps the upload's extension so the prober can sniff it.
func (m *Manager) New(originalName string) (*Workspace, error) {
	dir, err := os.MkdirTemp(m.jobsDir, "ws-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	logging.Debug("Created workspace %s for %q", dir, originalName)

	return &Workspace{
		Dir:        dir,
		SourcePath: filepath.Join(dir, sourceBaseName+ext),
		OutputPath: filepath.Join(dir, outputFileName),
	}, nil
}

// Sweep removes workspaces last modified more than maxAge ago and returns how
// many were removed.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.jobsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", m.jobsDir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.jobsDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logging.Warn("Failed to remove stale workspace %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logging.Info("Removed %d stale workspace(s) from %s", removed, m.jobsDir)
	}
	return removed, nil
}

// Workspace is one job's scratch directory.
type Workspace struct {
	Dir        string
	SourcePath string
	OutputPath string

	once sync.Once
	err  error
}

// Close deletes the workspace and everything in it. It is safe to call more
// than once; later calls return the first result.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.err = fmt.Errorf("failed to remove workspace %s: %w", w.Dir, err)
			logging.Warn("%v", w.err)
			return
		}
		logging.Debug("Removed workspace %s", w.Dir)
	})
	return w.err
}
