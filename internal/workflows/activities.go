package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
)

// AgentLoader refreshes and snapshots the agent directory.
// *agents.Directory satisfies it.
type AgentLoader interface {
	Load(ctx context.Context) (int, error)
	Snapshot() agents.Snapshot
}

// Activities holds the worker-side collaborators. Every method is a
// Temporal activity; errors are encoded so the workflow can classify them.
type Activities struct {
	Agents     AgentLoader
	Generator  orchestrator.Generator
	Gate       orchestrator.TestGate
	Workspace  orchestrator.Workspace
	Repository orchestrator.Repository
	Memory     memory.Store
	// Observers receive every published transition, e.g. the NATS
	// publisher and the metrics recorder.
	Observers []orchestrator.Observer
	Logger    *logging.Logger
}

// Activity input types

type ReadmeInput struct {
	Name        string
	Description string
}

type TestsInput struct {
	Tester      *agents.Handle
	Function    string
	Description string
	Ext         string
}

type ExplainInput struct {
	Tester  *agents.Handle
	Verdict testgate.Verdict
}

type WriteInput struct {
	Name    string
	Content string
}

type IssueInput struct {
	Title string
	Body  string
}

type PushInput struct {
	File   github.File
	Branch string
}

type PullRequestInput struct {
	Title       string
	Branch      string
	Base        string
	Issue       int
	Description string
}

type DispatchInput struct {
	Workflow string
	Ref      string
}

type TurnInput struct {
	Session string
	Actor   string
	Message string
}

// TeamOutcome is llm.Outcome with the error flattened for serialization.
type TeamOutcome struct {
	Role    string
	Result  llm.Result
	Error   string
	Unbound bool
}

func (o TeamOutcome) outcome() llm.Outcome {
	out := llm.Outcome{Role: o.Role, Result: o.Result}
	switch {
	case o.Unbound:
		out.Err = &llm.GenerationError{Role: o.Role, Err: llm.ErrUnboundRole}
	case o.Error != "":
		out.Err = &llm.GenerationError{Role: o.Role, Err: errors.New(o.Error)}
	}
	return out
}

func (a *Activities) logger() *logging.Logger {
	if a.Logger == nil {
		return logging.NewNop()
	}
	return a.Logger
}

// LoadAgents reloads the agent directory and returns the snapshot the run
// will use throughout.
func (a *Activities) LoadAgents(ctx context.Context) (agents.Snapshot, error) {
	n, err := a.Agents.Load(ctx)
	if err != nil {
		return nil, err
	}
	a.logger().Debug(ctx, "agents loaded", zap.Int("agents", n))
	return a.Agents.Snapshot(), nil
}

// RunTeam runs the developer/tester/documenter batch.
func (a *Activities) RunTeam(ctx context.Context, tasks []llm.TeamTask) ([]TeamOutcome, error) {
	outcomes, err := a.Generator.RunTeam(ctx, tasks)
	if err != nil {
		return nil, encode(err)
	}
	out := make([]TeamOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = TeamOutcome{Role: o.Role, Result: o.Result}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
			out[i].Unbound = errors.Is(o.Err, llm.ErrUnboundRole)
		}
	}
	return out, nil
}

// Readme generates fallback documentation.
func (a *Activities) Readme(ctx context.Context, in ReadmeInput) (llm.Result, error) {
	res, err := a.Generator.Readme(ctx, in.Name, in.Description)
	return res, encode(err)
}

// GenerateTests asks the tester for a test suite.
func (a *Activities) GenerateTests(ctx context.Context, in TestsInput) (string, error) {
	code, err := a.Gate.GenerateTestCode(ctx, in.Tester, in.Function, in.Description, in.Ext)
	return code, encode(err)
}

// RunTests runs the test command against target.
func (a *Activities) RunTests(ctx context.Context, target string) (testgate.Verdict, error) {
	v, err := a.Gate.Run(ctx, target)
	return v, encode(err)
}

// ExplainFailure asks the tester to explain a failing verdict.
func (a *Activities) ExplainFailure(ctx context.Context, in ExplainInput) (string, error) {
	text, err := a.Gate.Explain(ctx, in.Tester, in.Verdict)
	return text, encode(err)
}

// WriteArtifact stores an artifact in the workspace.
func (a *Activities) WriteArtifact(ctx context.Context, in WriteInput) (string, error) {
	path, err := a.Workspace.Write(ctx, in.Name, in.Content)
	return path, encode(err)
}

// EnsureIssue finds or creates the tracking issue.
func (a *Activities) EnsureIssue(ctx context.Context, in IssueInput) (int, error) {
	n, err := a.Repository.FindOrCreateIssue(ctx, in.Title, in.Body)
	return n, encode(err)
}

// DefaultBranch returns the repository's default branch.
func (a *Activities) DefaultBranch(ctx context.Context) (string, error) {
	b, err := a.Repository.DefaultBranch(ctx)
	return b, encode(err)
}

// PushFile pushes one artifact to the feature branch.
func (a *Activities) PushFile(ctx context.Context, in PushInput) error {
	return encode(a.Repository.Push(ctx, in.File, in.Branch))
}

// OpenPullRequest creates the pull request.
func (a *Activities) OpenPullRequest(ctx context.Context, in PullRequestInput) (int, error) {
	n, err := a.Repository.CreatePullRequest(ctx, in.Title, in.Branch, in.Base, in.Issue, in.Description)
	return n, encode(err)
}

// MergePullRequest merges an approved pull request.
func (a *Activities) MergePullRequest(ctx context.Context, pr int) error {
	return encode(a.Repository.Merge(ctx, pr))
}

// DispatchWorkflow triggers the configured CI workflow.
func (a *Activities) DispatchWorkflow(ctx context.Context, in DispatchInput) error {
	return encode(a.Repository.DispatchWorkflow(ctx, in.Workflow, in.Ref))
}

// AppendTurn appends to a memory session.
func (a *Activities) AppendTurn(ctx context.Context, in TurnInput) error {
	s, err := a.Memory.Session(ctx, in.Session)
	if err != nil {
		return fmt.Errorf("open memory session: %w", err)
	}
	return s.Append(ctx, in.Actor, in.Message)
}

// ReadTurns reads a memory session.
func (a *Activities) ReadTurns(ctx context.Context, session string) ([]memory.Turn, error) {
	s, err := a.Memory.Session(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("open memory session: %w", err)
	}
	return s.ReadAll(ctx)
}

// PublishTransition hands a transition to the observers. It runs as a local
// activity so replays do not publish twice.
func (a *Activities) PublishTransition(ctx context.Context, t orchestrator.Transition) error {
	if info := activity.GetInfo(ctx); info.Attempt > 1 {
		a.logger().Debug(ctx, "republishing transition", zap.Int32("attempt", info.Attempt))
	}
	for _, o := range a.Observers {
		o(t)
	}
	return nil
}
