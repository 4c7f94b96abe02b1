package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel answers by looking up the system persona's role.
type fakeModel struct {
	mu       sync.Mutex
	answers  map[string]string
	failures map[string]error
	delay    time.Duration
	prompts  []string
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var system, human string
	for _, m := range messages {
		for _, part := range m.Parts {
			tc, ok := part.(llms.TextContent)
			if !ok {
				continue
			}
			switch m.Role {
			case llms.ChatMessageTypeSystem:
				system = tc.Text
			case llms.ChatMessageTypeHuman:
				human = tc.Text
			}
		}
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, human)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for role, err := range f.failures {
		if strings.Contains(system, "team's "+role) {
			return nil, err
		}
	}
	for role, answer := range f.answers {
		if strings.Contains(system, "team's "+role) {
			if answer == "" {
				return &llms.ContentResponse{}, nil
			}
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "echo: " + human}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func handle(role string) *agents.Handle {
	return &agents.Handle{Name: strings.ToUpper(role[:1]) + role[1:], Role: role, Goal: "g", Backstory: "b"}
}

func TestGenerate(t *testing.T) {
	model := &fakeModel{answers: map[string]string{"developer": "def f(): pass"}}
	c := NewWithModel(model, Options{}, nil)

	t.Run("success", func(t *testing.T) {
		r, err := c.Generate(context.Background(), handle("developer"), "write f")
		require.NoError(t, err)
		assert.Equal(t, Success, r.Kind)
		assert.True(t, r.Ok())
		assert.Equal(t, "def f(): pass", r.Text)
	})

	t.Run("empty answer is degraded", func(t *testing.T) {
		model.answers["documenter"] = ""
		r, err := c.Generate(context.Background(), handle("documenter"), "write docs")
		require.NoError(t, err)
		assert.Equal(t, Degraded, r.Kind)
		assert.False(t, r.Ok())
		assert.NotEmpty(t, r.Raw)
	})

	t.Run("nil handle sends no persona", func(t *testing.T) {
		r, err := c.Generate(context.Background(), nil, "hello")
		require.NoError(t, err)
		assert.Equal(t, "echo: hello", r.Text)
	})
}

func TestGenerate_Timeout(t *testing.T) {
	model := &fakeModel{delay: time.Second}
	c := NewWithModel(model, Options{Timeout: 10 * time.Millisecond}, nil)

	_, err := c.Generate(context.Background(), handle("developer"), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunTeam_PreservesOrderAndIsolatesFailures(t *testing.T) {
	model := &fakeModel{
		answers:  map[string]string{"developer": "```python\ndef f():\n    return 1\n```", "tester": "def test_f(): pass"},
		failures: map[string]error{"documenter": errors.New("upstream 500")},
		delay:    5 * time.Millisecond,
	}
	c := NewWithModel(model, Options{MaxConcurrency: 3}, nil)

	out, err := c.RunTeam(context.Background(), []TeamTask{
		{Role: "developer", Handle: handle("developer"), Name: "X - Code", CodeExt: ".py"},
		{Role: "tester", Handle: handle("tester"), Name: "X - Tests"},
		{Role: "documenter", Handle: handle("documenter"), Name: "X - Documentation"},
	})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, []string{"developer", "tester", "documenter"}, []string{out[0].Role, out[1].Role, out[2].Role})
	assert.Equal(t, "def f():\n    return 1\n", out[0].Result.Text)
	assert.Equal(t, "def test_f(): pass", out[1].Result.Text)

	var gerr *GenerationError
	require.ErrorAs(t, out[2].Err, &gerr)
	assert.Equal(t, "documenter", gerr.Role)
	assert.Contains(t, gerr.Error(), "upstream 500")
}

func TestRunTeam_UnboundRole(t *testing.T) {
	model := &fakeModel{}
	c := NewWithModel(model, Options{}, nil)

	out, err := c.RunTeam(context.Background(), []TeamTask{
		{Role: "developer", Handle: handle("developer")},
		{Role: "documenter"},
	})
	require.NoError(t, err)
	assert.NoError(t, out[0].Err)
	assert.ErrorIs(t, out[1].Err, ErrUnboundRole)
	assert.Len(t, model.prompts, 1, "unbound role must not reach the model")
}

func TestRunTeam_BoundedConcurrency(t *testing.T) {
	model := &fakeModel{delay: 20 * time.Millisecond}
	c := NewWithModel(model, Options{MaxConcurrency: 2}, nil)

	tasks := make([]TeamTask, 6)
	for i := range tasks {
		tasks[i] = TeamTask{Role: "developer", Handle: handle("developer")}
	}
	_, err := c.RunTeam(context.Background(), tasks)
	require.NoError(t, err)
	assert.LessOrEqual(t, model.peak.Load(), int32(2))
}

func TestRunTeam_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewWithModel(&fakeModel{}, Options{}, nil)
	_, err := c.RunTeam(ctx, []TeamTask{{Role: "developer", Handle: handle("developer")}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTeamTask_Prompt(t *testing.T) {
	p := TeamTask{
		Name:           "Finder - Code",
		Description:    "find endpoints",
		ExpectedOutput: "working code",
		Context:        "user: hello",
	}.Prompt()
	assert.Contains(t, p, "Task: Finder - Code")
	assert.Contains(t, p, "find endpoints")
	assert.Contains(t, p, "Expected output: working code")
	assert.Contains(t, p, "user: hello")
}

func TestHelpers(t *testing.T) {
	model := &fakeModel{}
	c := NewWithModel(model, Options{}, nil)
	ctx := context.Background()

	r, err := c.Readme(ctx, "Finder", "finds things")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "README")

	r, err = c.Docstring(ctx, "def f(): pass")
	require.NoError(t, err)
	assert.Contains(t, r.Text, "def f(): pass")
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(config.LLMConfig{Provider: "parrot"}, nil)
	assert.Error(t, err)
}
