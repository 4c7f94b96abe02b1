// Package workspace is the local artifact store for pipeline runs. Writes are
// atomic (temp file plus rename) and each task holds an exclusive lock file
// for the duration of a run.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// StateDir holds lock files, relative to the workspace root.
const StateDir = ".devpipe"

// ErrBusy is returned by Lock when another run holds the task lock.
var ErrBusy = errors.New("task is locked by another run")

// Workspace writes artifacts under a single directory.
type Workspace struct {
	dir string
}

// New returns a workspace rooted at dir, creating it if needed.
func New(dir string) (*Workspace, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", abs, err)
	}
	return &Workspace{dir: abs}, nil
}

// Dir returns the absolute workspace root.
func (w *Workspace) Dir() string { return w.dir }

// Path returns the absolute path for an artifact name.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Write stores content under name and returns the absolute path. Readers never
// observe a partial file.
func (w *Workspace) Write(ctx context.Context, name, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	path := w.Path(name)
	if err := AtomicWrite(path, []byte(content)); err != nil {
		return "", err
	}
	return path, nil
}

// Read returns the content stored under name.
func (w *Workspace) Read(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	data, err := os.ReadFile(w.Path(name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Lock takes the exclusive lock for slug without blocking. It fails with
// ErrBusy when another process or goroutine already holds it.
func (w *Workspace) Lock(slug string) (*Lock, error) {
	if err := validName(slug); err != nil {
		return nil, err
	}
	dir := filepath.Join(w.dir, StateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, slug+".lock")
	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock on %s: %w", path, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", slug, ErrBusy)
	}
	return &Lock{flock: fl, path: path}, nil
}

// Lock is a held task lock.
type Lock struct {
	flock *flock.Flock
	path  string
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Unlock releases the lock. The lock file stays in place.
func (l *Lock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}

// AtomicWrite writes data to path through a temp file in the same directory
// and a rename. If any step fails the previous content is left unchanged.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	// Renamed; nothing left to clean up.
	tempFile = nil
	return nil
}
