package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockRetry    = 10 * time.Millisecond
	maxTurnBytes = 16 << 20
)

// fileStore keeps one JSONL file per session. A sibling .lock file
// serialises writers across processes.
type fileStore struct {
	dir  string
	opts options
}

func newFileStore(dir string, o options) (*fileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file memory url needs a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create dir: %w", err)
	}
	return &fileStore{dir: dir, opts: o}, nil
}

func (s *fileStore) Session(_ context.Context, id string) (Session, error) {
	if err := validSessionID(id); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, id+".jsonl")
	return &fileSession{path: path, now: s.opts.now}, nil
}

func (s *fileStore) Close() error { return nil }

// fileSession takes a fresh flock per call: a Flock already held by this
// process would otherwise grant itself again to a second goroutine.
type fileSession struct {
	path string
	now  func() time.Time
}

func (s *fileSession) Append(ctx context.Context, actor, message string) error {
	line, err := json.Marshal(Turn{Actor: actor, Message: message, At: s.now()})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	lock := flock.New(s.path + ".lock")
	if _, err := lock.TryLockContext(ctx, lockRetry); err != nil {
		return fmt.Errorf("memory: lock %s: %w", s.path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path built from a validated id
	if err != nil {
		return fmt.Errorf("memory: open %s: %w", s.path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("memory: append: %w", err)
	}
	return f.Close()
}

func (s *fileSession) ReadAll(ctx context.Context) ([]Turn, error) {
	lock := flock.New(s.path + ".lock")
	if _, err := lock.TryRLockContext(ctx, lockRetry); err != nil {
		return nil, fmt.Errorf("memory: lock %s: %w", s.path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(s.path) // #nosec G304 -- path built from a validated id
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("memory: open %s: %w", s.path, err)
	}
	defer f.Close()

	var turns []Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTurnBytes)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var t Turn
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("memory: corrupt turn in %s: %w", s.path, err)
		}
		turns = append(turns, t)
	}
	return turns, scanner.Err()
}
