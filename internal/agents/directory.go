package agents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"go.uber.org/zap"
)

// Directory resolves roles to handles from an immutable snapshot. Reload
// swaps the snapshot atomically; a Snapshot taken earlier is unaffected.
type Directory struct {
	dir    string
	logger *logging.Logger

	mu       sync.RWMutex
	snapshot map[string]*Handle
}

// NewDirectory creates a directory over dir. Nothing is read until Load.
func NewDirectory(dir string, logger *logging.Logger) *Directory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Directory{dir: dir, logger: logger.Named("agents"), snapshot: map[string]*Handle{}}
}

// Load scans the directory (non-recursively) and replaces the snapshot with
// every profile that parsed. A missing directory yields an empty snapshot.
// Only an unreadable directory is an error.
func (d *Directory) Load(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn(ctx, "agent directory not found", zap.String("dir", d.dir))
			d.swap(map[string]*Handle{})
			return 0, nil
		}
		return 0, fmt.Errorf("reading agent directory %s: %w", d.dir, err)
	}

	// ReadDir sorts by name so duplicate roles resolve deterministically:
	// the last file wins.
	next := make(map[string]*Handle, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !supported(entry.Name()) {
			continue
		}
		path := filepath.Join(d.dir, entry.Name())
		h, err := parseProfile(path)
		if err != nil {
			d.logger.Warn(ctx, "skipping agent profile",
				zap.String("file", path), zap.Error(err))
			continue
		}
		role := normalize(h.Role)
		if prev, ok := next[role]; ok {
			d.logger.Warn(ctx, "duplicate agent role",
				zap.String("role", role),
				zap.String("replaced", prev.Source),
				zap.String("file", path))
		}
		next[role] = h
	}

	d.swap(next)
	d.logger.Info(ctx, "agent directory loaded",
		zap.String("dir", d.dir), zap.Int("agents", len(next)))
	return len(next), nil
}

func (d *Directory) swap(next map[string]*Handle) {
	d.mu.Lock()
	d.snapshot = next
	d.mu.Unlock()
}

// Resolve returns the handle bound to role, case-insensitively.
func (d *Directory) Resolve(role string) (*Handle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.snapshot[normalize(role)]
	return h, ok
}

// Snapshot returns the current role map. Pipelines take one snapshot per
// run so a reload never changes agents mid-run.
func (d *Directory) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot(d.snapshot)
}

// Snapshot is a read-only role map.
type Snapshot map[string]*Handle

// Resolve returns the handle bound to role, case-insensitively.
func (s Snapshot) Resolve(role string) (*Handle, bool) {
	h, ok := s[normalize(role)]
	return h, ok
}

// Roles lists the bound roles in sorted order.
func (s Snapshot) Roles() []string {
	roles := make([]string, 0, len(s))
	for r := range s {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

func normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
