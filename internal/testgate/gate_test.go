package testgate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, h *agents.Handle, prompt string) (llm.Result, error) {
	args := m.Called(ctx, h, prompt)
	return args.Get(0).(llm.Result), args.Error(1)
}

func script(t *testing.T, body string) (dir, name string) {
	t.Helper()
	dir = t.TempDir()
	name = "test_script.sh"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	return dir, name
}

func newGate(t *testing.T, dir string, timeout time.Duration) *Gate {
	t.Helper()
	g, err := New(config.TestGateConfig{Command: "sh {target}", Timeout: timeout}, dir, &mockGenerator{}, nil)
	require.NoError(t, err)
	return g
}

func TestRun(t *testing.T) {
	t.Run("passing run", func(t *testing.T) {
		dir, name := script(t, "echo 'test_a PASSED'\necho 'test_b PASSED'\n")
		v, err := newGate(t, dir, time.Minute).Run(context.Background(), name)
		require.NoError(t, err)
		assert.True(t, v.Ok())
		assert.Equal(t, 2, v.Passed)
		assert.Equal(t, 0, v.Failed)
		assert.Equal(t, "2 passed, 0 failed", v.Summary)
	})

	t.Run("failing run is a verdict not an error", func(t *testing.T) {
		dir, name := script(t, "echo 'test_a PASSED'\necho 'test_b FAILED'\necho boom >&2\nexit 3\n")
		v, err := newGate(t, dir, time.Minute).Run(context.Background(), name)
		require.NoError(t, err)
		assert.False(t, v.Ok())
		assert.Equal(t, 3, v.ExitCode)
		assert.Equal(t, 1, v.Failed)
		assert.Equal(t, "boom", v.Errors)
	})

	t.Run("exit code wins over counts", func(t *testing.T) {
		dir, name := script(t, "echo 'all PASSED'\nexit 1\n")
		v, err := newGate(t, dir, time.Minute).Run(context.Background(), name)
		require.NoError(t, err)
		assert.Equal(t, 1, v.Passed)
		assert.False(t, v.Ok())
	})

	t.Run("timeout fails the verdict", func(t *testing.T) {
		dir, name := script(t, "sleep 5\n")
		v, err := newGate(t, dir, 100*time.Millisecond).Run(context.Background(), name)
		require.NoError(t, err)
		assert.False(t, v.Ok())
		assert.Contains(t, v.Summary, "timed out")
	})

	t.Run("runner that cannot start is an error", func(t *testing.T) {
		g, err := New(config.TestGateConfig{Command: "devpipe-no-such-runner {target}", Timeout: time.Minute}, t.TempDir(), nil, nil)
		require.NoError(t, err)

		v, err := g.Run(context.Background(), "x")
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, "run", gerr.Op)
		assert.Equal(t, 1, v.ExitCode)
	})

	t.Run("cancelled context is an error", func(t *testing.T) {
		dir, name := script(t, "sleep 5\n")
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := newGate(t, dir, time.Minute).Run(ctx, name)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestNew_RequiresPlaceholder(t *testing.T) {
	_, err := New(config.TestGateConfig{Command: "pytest -q"}, ".", nil, nil)
	assert.Error(t, err)
	_, err = New(config.TestGateConfig{Command: ""}, ".", nil, nil)
	assert.Error(t, err)
}

func TestGenerateTestCode(t *testing.T) {
	tester := &agents.Handle{Name: "Grace", Role: "tester", Goal: "g", Backstory: "b"}

	t.Run("no tester", func(t *testing.T) {
		g := newGate(t, t.TempDir(), time.Minute)
		_, err := g.GenerateTestCode(context.Background(), nil, "finder", "finds", ".py")

		assert.ErrorIs(t, err, ErrNoTester)
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, NoTesterVerdict(), gerr.Verdict)
		assert.Equal(t, "no tester available", gerr.Verdict.Summary)
		assert.Equal(t, 1, gerr.Verdict.ExitCode)
	})

	t.Run("extracts fenced code", func(t *testing.T) {
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, tester, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "**finder**") &&
				strings.Contains(p, "finds endpoints") &&
				strings.Contains(p, "Do not implement")
		})).Return(llm.Result{Kind: llm.Success, Text: "```python\ndef test_finder():\n    assert True\n```"}, nil)

		g, err := New(config.TestGateConfig{Command: "pytest {target} -q"}, ".", gen, nil)
		require.NoError(t, err)

		code, err := g.GenerateTestCode(context.Background(), tester, "finder", "finds endpoints", ".py")
		require.NoError(t, err)
		assert.Equal(t, "def test_finder():\n    assert True\n", code)
		gen.AssertExpectations(t)
	})

	t.Run("generation failure carries the role", func(t *testing.T) {
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, tester, mock.Anything).Return(llm.Result{}, errors.New("quota"))

		g, err := New(config.TestGateConfig{Command: "pytest {target}"}, ".", gen, nil)
		require.NoError(t, err)

		_, err = g.GenerateTestCode(context.Background(), tester, "finder", "finds", ".py")
		var gerr *llm.GenerationError
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, "tester", gerr.Role)
	})

	t.Run("degraded answer is a generation failure", func(t *testing.T) {
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, tester, mock.Anything).Return(llm.Result{Kind: llm.Degraded, Raw: "{}"}, nil)

		g, err := New(config.TestGateConfig{Command: "pytest {target}"}, ".", gen, nil)
		require.NoError(t, err)

		_, err = g.GenerateTestCode(context.Background(), tester, "finder", "finds", ".py")
		var gerr *llm.GenerationError
		assert.ErrorAs(t, err, &gerr)
	})
}

func TestExplain(t *testing.T) {
	tester := &agents.Handle{Name: "Grace", Role: "tester", Goal: "g", Backstory: "b"}
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, tester, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "test_b FAILED") && strings.Contains(p, "ImportError")
	})).Return(llm.Result{Kind: llm.Success, Text: "fix the import"}, nil)

	g, err := New(config.TestGateConfig{Command: "pytest {target}"}, ".", gen, nil)
	require.NoError(t, err)

	text, err := g.Explain(context.Background(), tester, Verdict{Output: "test_b FAILED", Errors: "ImportError", ExitCode: 1})
	require.NoError(t, err)
	assert.Equal(t, "fix the import", text)
}
