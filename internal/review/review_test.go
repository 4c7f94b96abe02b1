package review

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() orchestrator.ReviewRequest {
	return orchestrator.ReviewRequest{
		RunID:       "run-1",
		Task:        orchestrator.Task{Name: "Website Endpoint Finder", Description: "Crawl a site."},
		Slug:        "website-endpoint-finder",
		Branch:      "feature/website-endpoint-finder-ai",
		IssueNumber: 42,
		PRNumber:    7,
		Iteration:   1,
		Verdict:     testgate.Verdict{Passed: 3, Summary: "3 passed, 0 failed"},
		Artifacts: []orchestrator.Artifact{
			{Kind: orchestrator.ArtifactCode, Filename: "code_website-endpoint-finder.py", Content: "def find(): ..."},
			{Kind: orchestrator.ArtifactTest, Filename: "test_website-endpoint-finder.py", Content: "def test_find(): ..."},
			{Kind: orchestrator.ArtifactDocumentation, Filename: "readme_website-endpoint-finder.md"},
		},
	}
}

func TestNew(t *testing.T) {
	dir := agents.Snapshot{}
	tests := []struct {
		mode    string
		opts    Options
		wantErr bool
	}{
		{config.ReviewApprove, Options{}, false},
		{config.ReviewPrompt, Options{In: strings.NewReader("")}, false},
		{config.ReviewTerminal, Options{In: strings.NewReader(""), Out: &bytes.Buffer{}}, false},
		{config.ReviewAuto, Options{Generator: &MockGenerator{}, Directory: dir}, false},
		{config.ReviewAuto, Options{}, true},
		{config.ReviewHTTP, Options{Inbox: NewInbox(nil)}, false},
		{config.ReviewHTTP, Options{}, true},
		{"telepathy", Options{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			r, err := New(tt.mode, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r)
		})
	}
}

func TestApprove(t *testing.T) {
	rv, err := Approve().Review(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Approved, rv.Decision)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Approve().Review(ctx, sampleRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithTimeout(t *testing.T) {
	slow := orchestrator.ReviewerFunc(func(ctx context.Context, _ orchestrator.ReviewRequest) (orchestrator.Review, error) {
		<-ctx.Done()
		return orchestrator.Review{}, ctx.Err()
	})

	_, err := WithTimeout(slow, 20*time.Millisecond).Review(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "no review decision within")

	assert.NotNil(t, WithTimeout(Approve(), 0))
}

func TestSummary(t *testing.T) {
	out := Summary(sampleRequest())
	assert.Contains(t, out, "Website Endpoint Finder")
	assert.Contains(t, out, "#7")
	assert.Contains(t, out, "feature/website-endpoint-finder-ai")
	assert.Contains(t, out, "3 passed, 0 failed")
	assert.Contains(t, out, "readme_website-endpoint-finder.md")
	assert.Contains(t, out, "no content")
}

func TestPrompt(t *testing.T) {
	t.Run("approves", func(t *testing.T) {
		out := &bytes.Buffer{}
		rv, err := NewPrompt(strings.NewReader("approved\n"), out).Review(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, orchestrator.Approved, rv.Decision)
		assert.Empty(t, rv.Feedback)
		assert.Contains(t, out.String(), "Decision [APPROVED/NEEDS_REVISION]")
	})

	t.Run("asks again on nonsense then takes feedback", func(t *testing.T) {
		out := &bytes.Buffer{}
		in := strings.NewReader("maybe\nNEEDS_REVISION\nfollow redirects\n")
		rv, err := NewPrompt(in, out).Review(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, orchestrator.NeedsRevision, rv.Decision)
		assert.Equal(t, "follow redirects", rv.Feedback)
		assert.Contains(t, out.String(), `"maybe" is not a decision`)
	})

	t.Run("end of input is an error", func(t *testing.T) {
		_, err := NewPrompt(strings.NewReader(""), &bytes.Buffer{}).Review(context.Background(), sampleRequest())
		assert.Error(t, err)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		blocked, _ := ioPipe()
		_, err := NewPrompt(blocked, &bytes.Buffer{}).Review(ctx, sampleRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
