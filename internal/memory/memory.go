// Package memory is the conversation memory: an append-only, ordered log of
// (actor, message) turns per session. Pipelines key sessions by task slug.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Turn is one message in a session.
type Turn struct {
	Actor   string    `json:"actor"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Session is one ordered log. Append is atomic with respect to concurrent
// writers, including writers in other processes for the file and sqlite
// backends.
type Session interface {
	Append(ctx context.Context, actor, message string) error
	ReadAll(ctx context.Context) ([]Turn, error)
}

// Store hands out sessions by id.
type Store interface {
	Session(ctx context.Context, id string) (Session, error)
	Close() error
}

// Redactor scrubs a message before it is stored.
type Redactor interface {
	Redact(content string) (string, int)
}

// Option configures Open.
type Option func(*options)

type options struct {
	redactor Redactor
	now      func() time.Time
}

// WithRedactor scrubs every appended message.
func WithRedactor(r Redactor) Option {
	return func(o *options) { o.redactor = r }
}

// WithClock overrides the turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open returns the store named by rawURL:
//
//	memory://              process-local, lost on exit
//	file:///var/lib/dp     one JSONL file per session in that directory
//	sqlite:///var/lib/dp.db
//
// An empty URL means memory://.
func Open(ctx context.Context, rawURL string, opts ...Option) (Store, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if rawURL == "" {
		rawURL = "memory://"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid memory url: %w", err)
	}

	var store Store
	switch u.Scheme {
	case "memory":
		store = newMemStore(o)
	case "file":
		store, err = newFileStore(pathOf(u), o)
	case "sqlite":
		store, err = newSQLiteStore(ctx, pathOf(u), o)
	default:
		return nil, fmt.Errorf("unsupported memory scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	if o.redactor != nil {
		store = &redactingStore{Store: store, redactor: o.redactor}
	}
	return store, nil
}

// pathOf accepts both file:///abs and file://relative/path.
func pathOf(u *url.URL) string {
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Path
}

func validSessionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// Transcript renders turns as "actor: message" lines.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Actor, t.Message)
	}
	return b.String()
}

type redactingStore struct {
	Store
	redactor Redactor
}

func (s *redactingStore) Session(ctx context.Context, id string) (Session, error) {
	inner, err := s.Store.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	return &redactingSession{Session: inner, redactor: s.redactor}, nil
}

type redactingSession struct {
	Session
	redactor Redactor
}

func (s *redactingSession) Append(ctx context.Context, actor, message string) error {
	clean, _ := s.redactor.Redact(message)
	return s.Session.Append(ctx, actor, clean)
}
