package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func backends(t *testing.T) map[string]string {
	dir := t.TempDir()
	return map[string]string{
		"memory": "memory://",
		"file":   "file://" + filepath.Join(dir, "turns"),
		"sqlite": "sqlite://" + filepath.Join(dir, "memory.db"),
	}
}

func TestBackends(t *testing.T) {
	for name, url := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, err := Open(ctx, url, WithClock(func() time.Time { return fixed }))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			t.Run("empty session reads nothing", func(t *testing.T) {
				sess, err := store.Session(ctx, "fresh")
				require.NoError(t, err)
				turns, err := sess.ReadAll(ctx)
				require.NoError(t, err)
				assert.Empty(t, turns)
			})

			t.Run("turns keep order", func(t *testing.T) {
				sess, err := store.Session(ctx, "website-endpoint-finder")
				require.NoError(t, err)
				require.NoError(t, sess.Append(ctx, "user", "build a finder"))
				require.NoError(t, sess.Append(ctx, "developer", "def find(): ..."))
				require.NoError(t, sess.Append(ctx, "reviewer", "needs tests\nfor edge cases"))

				turns, err := sess.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, turns, 3)
				assert.Equal(t, "user", turns[0].Actor)
				assert.Equal(t, "def find(): ...", turns[1].Message)
				assert.Equal(t, "needs tests\nfor edge cases", turns[2].Message)
				assert.True(t, turns[0].At.Equal(fixed))
			})

			t.Run("sessions are isolated", func(t *testing.T) {
				a, err := store.Session(ctx, "task-a")
				require.NoError(t, err)
				b, err := store.Session(ctx, "task-b")
				require.NoError(t, err)
				require.NoError(t, a.Append(ctx, "user", "a"))

				turns, err := b.ReadAll(ctx)
				require.NoError(t, err)
				assert.Empty(t, turns)
			})

			t.Run("concurrent appends never interleave", func(t *testing.T) {
				sess, err := store.Session(ctx, "busy")
				require.NoError(t, err)

				var wg sync.WaitGroup
				for w := 0; w < 4; w++ {
					wg.Add(1)
					go func(w int) {
						defer wg.Done()
						for i := 0; i < 10; i++ {
							msg := fmt.Sprintf("writer-%d-%d-%s", w, i, strings.Repeat("x", 512))
							assert.NoError(t, sess.Append(ctx, "agent", msg))
						}
					}(w)
				}
				wg.Wait()

				turns, err := sess.ReadAll(ctx)
				require.NoError(t, err)
				require.Len(t, turns, 40)
				for _, turn := range turns {
					assert.True(t, strings.HasPrefix(turn.Message, "writer-"))
					assert.True(t, strings.HasSuffix(turn.Message, strings.Repeat("x", 512)))
				}
			})

			t.Run("rejects path-like ids", func(t *testing.T) {
				_, err := store.Session(ctx, "../escape")
				assert.Error(t, err)
				_, err = store.Session(ctx, "")
				assert.Error(t, err)
			})
		})
	}
}

func TestFileStore_PersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	url := "file://" + t.TempDir()

	first, err := Open(ctx, url)
	require.NoError(t, err)
	sess, err := first.Session(ctx, "demo")
	require.NoError(t, err)
	require.NoError(t, sess.Append(ctx, "user", "hello"))

	second, err := Open(ctx, url)
	require.NoError(t, err)
	sess, err = second.Session(ctx, "demo")
	require.NoError(t, err)
	turns, err := sess.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Message)
}

type upperRedactor struct{}

func (upperRedactor) Redact(s string) (string, int) {
	return strings.ReplaceAll(s, "hunter2", "[REDACTED]"), 1
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("empty url is in-memory", func(t *testing.T) {
		store, err := Open(ctx, "")
		require.NoError(t, err)
		assert.IsType(t, &memStore{}, store)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := Open(ctx, "redis://localhost:6379")
		assert.Error(t, err)
	})

	t.Run("redactor scrubs appends", func(t *testing.T) {
		store, err := Open(ctx, "memory://", WithRedactor(upperRedactor{}))
		require.NoError(t, err)
		sess, err := store.Session(ctx, "demo")
		require.NoError(t, err)
		require.NoError(t, sess.Append(ctx, "developer", "password = hunter2"))

		turns, err := sess.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, "password = [REDACTED]", turns[0].Message)
	})
}

func TestTranscript(t *testing.T) {
	out := Transcript([]Turn{{Actor: "user", Message: "hi"}, {Actor: "developer", Message: "hello"}})
	assert.Equal(t, "user: hi\ndeveloper: hello\n", out)
}
