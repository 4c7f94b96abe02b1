package memory

import (
	"context"
	"sync"
	"time"
)

type memStore struct {
	opts options

	mu       sync.Mutex
	sessions map[string]*memSession
}

func newMemStore(o options) *memStore {
	return &memStore{opts: o, sessions: map[string]*memSession{}}
}

func (s *memStore) Session(_ context.Context, id string) (Session, error) {
	if err := validSessionID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &memSession{now: s.opts.now}
		s.sessions[id] = sess
	}
	return sess, nil
}

func (s *memStore) Close() error { return nil }

type memSession struct {
	now func() time.Time

	mu    sync.RWMutex
	turns []Turn
}

func (s *memSession) Append(_ context.Context, actor, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Actor: actor, Message: message, At: s.now()})
	return nil
}

func (s *memSession) ReadAll(_ context.Context) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}
