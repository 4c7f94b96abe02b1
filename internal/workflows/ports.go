package workflows

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
)

// acts is only used to name activity methods.
var acts *Activities

var (
	llmOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	gateOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	repoOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 2 * time.Second,
			MaximumAttempts: 3,
		},
	}
	localOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
)

func call(ctx workflow.Context, opts workflow.ActivityOptions, activity interface{}, args ...interface{}) workflow.Future {
	return workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), activity, args...)
}

// The adapters below satisfy the orchestrator ports by running activities.
// They ignore the context.Context the executor passes and schedule on the
// workflow context they were built with.

type generator struct{ ctx workflow.Context }

func (g generator) RunTeam(_ context.Context, tasks []llm.TeamTask) ([]llm.Outcome, error) {
	var out []TeamOutcome
	if err := call(g.ctx, llmOptions, acts.RunTeam, tasks).Get(g.ctx, &out); err != nil {
		return nil, decode(err)
	}
	outcomes := make([]llm.Outcome, len(out))
	for i, o := range out {
		outcomes[i] = o.outcome()
	}
	return outcomes, nil
}

func (g generator) Readme(_ context.Context, name, description string) (llm.Result, error) {
	var res llm.Result
	err := call(g.ctx, llmOptions, acts.Readme, ReadmeInput{Name: name, Description: description}).Get(g.ctx, &res)
	return res, decode(err)
}

type gate struct{ ctx workflow.Context }

func (g gate) GenerateTestCode(_ context.Context, tester *agents.Handle, fn, description, ext string) (string, error) {
	var code string
	in := TestsInput{Tester: tester, Function: fn, Description: description, Ext: ext}
	err := call(g.ctx, llmOptions, acts.GenerateTests, in).Get(g.ctx, &code)
	return code, decode(err)
}

func (g gate) Run(_ context.Context, target string) (testgate.Verdict, error) {
	var v testgate.Verdict
	err := call(g.ctx, gateOptions, acts.RunTests, target).Get(g.ctx, &v)
	return v, decode(err)
}

func (g gate) Explain(_ context.Context, tester *agents.Handle, v testgate.Verdict) (string, error) {
	var text string
	err := call(g.ctx, llmOptions, acts.ExplainFailure, ExplainInput{Tester: tester, Verdict: v}).Get(g.ctx, &text)
	return text, decode(err)
}

type artifactStore struct{ ctx workflow.Context }

func (w artifactStore) Write(_ context.Context, name, content string) (string, error) {
	var path string
	err := call(w.ctx, localOptions, acts.WriteArtifact, WriteInput{Name: name, Content: content}).Get(w.ctx, &path)
	return path, decode(err)
}

type repository struct{ ctx workflow.Context }

func (r repository) FindOrCreateIssue(_ context.Context, title, body string) (int, error) {
	var n int
	err := call(r.ctx, repoOptions, acts.EnsureIssue, IssueInput{Title: title, Body: body}).Get(r.ctx, &n)
	return n, decode(err)
}

func (r repository) DefaultBranch(_ context.Context) (string, error) {
	var b string
	err := call(r.ctx, repoOptions, acts.DefaultBranch).Get(r.ctx, &b)
	return b, decode(err)
}

func (r repository) Push(_ context.Context, file github.File, branch string) error {
	return decode(call(r.ctx, repoOptions, acts.PushFile, PushInput{File: file, Branch: branch}).Get(r.ctx, nil))
}

func (r repository) CreatePullRequest(_ context.Context, title, branch, base string, issue int, description string) (int, error) {
	var n int
	in := PullRequestInput{Title: title, Branch: branch, Base: base, Issue: issue, Description: description}
	err := call(r.ctx, repoOptions, acts.OpenPullRequest, in).Get(r.ctx, &n)
	return n, decode(err)
}

func (r repository) Merge(_ context.Context, pr int) error {
	return decode(call(r.ctx, repoOptions, acts.MergePullRequest, pr).Get(r.ctx, nil))
}

func (r repository) DispatchWorkflow(_ context.Context, name, ref string) error {
	return decode(call(r.ctx, repoOptions, acts.DispatchWorkflow, DispatchInput{Workflow: name, Ref: ref}).Get(r.ctx, nil))
}

type memoryStore struct{ ctx workflow.Context }

func (m memoryStore) Session(_ context.Context, id string) (memory.Session, error) {
	return memorySession{ctx: m.ctx, id: id}, nil
}

func (memoryStore) Close() error { return nil }

type memorySession struct {
	ctx workflow.Context
	id  string
}

func (s memorySession) Append(_ context.Context, actor, message string) error {
	in := TurnInput{Session: s.id, Actor: actor, Message: message}
	return decode(call(s.ctx, localOptions, acts.AppendTurn, in).Get(s.ctx, nil))
}

func (s memorySession) ReadAll(_ context.Context) ([]memory.Turn, error) {
	var turns []memory.Turn
	err := call(s.ctx, localOptions, acts.ReadTurns, s.id).Get(s.ctx, &turns)
	return turns, decode(err)
}

// runContext presents a workflow.Context to the executor. Err reports
// context.Canceled once the workflow is cancelled; Done is never closed
// because the executor only polls Err between states.
type runContext struct{ ctx workflow.Context }

func (c runContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (c runContext) Done() <-chan struct{}       { return nil }
func (c runContext) Value(key any) any           { return c.ctx.Value(key) }

func (c runContext) Err() error {
	if c.ctx.Err() != nil {
		return context.Canceled
	}
	return nil
}
