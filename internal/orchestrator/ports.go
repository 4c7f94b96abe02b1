package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/fyrsmithlabs/devpipe/internal/workspace"
)

// Directory resolves a role to its agent. agents.Snapshot satisfies it.
type Directory interface {
	Resolve(role string) (*agents.Handle, bool)
}

// Generator runs the developer/tester/documenter batch. *llm.Client
// satisfies it.
type Generator interface {
	RunTeam(ctx context.Context, tasks []llm.TeamTask) ([]llm.Outcome, error)
	Readme(ctx context.Context, name, description string) (llm.Result, error)
}

// TestGate generates and runs tests. *testgate.Gate satisfies it.
type TestGate interface {
	GenerateTestCode(ctx context.Context, tester *agents.Handle, fn, description, ext string) (string, error)
	Run(ctx context.Context, target string) (testgate.Verdict, error)
	Explain(ctx context.Context, tester *agents.Handle, v testgate.Verdict) (string, error)
}

// Workspace stores artifacts locally and returns their absolute paths.
type Workspace interface {
	Write(ctx context.Context, name, content string) (string, error)
}

// Locker hands out the per-task lock held for the whole run.
// *workspace.Workspace satisfies it.
type Locker interface {
	Lock(slug string) (*workspace.Lock, error)
}

// Repository is the source-control host. *github.Gateway satisfies it.
type Repository interface {
	FindOrCreateIssue(ctx context.Context, title, body string) (int, error)
	DefaultBranch(ctx context.Context) (string, error)
	Push(ctx context.Context, file github.File, branch string) error
	CreatePullRequest(ctx context.Context, title, branch, base string, issue int, description string) (int, error)
	Merge(ctx context.Context, pr int) error
	DispatchWorkflow(ctx context.Context, workflow, ref string) error
}

// Reviewer supplies the review decision for a pull request.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (Review, error)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, req ReviewRequest) (Review, error)

// Review calls f.
func (f ReviewerFunc) Review(ctx context.Context, req ReviewRequest) (Review, error) {
	return f(ctx, req)
}

// Deps are the collaborators of an Executor. Locker is optional.
type Deps struct {
	Directory  Directory
	Generator  Generator
	Gate       TestGate
	Workspace  Workspace
	Locker     Locker
	Repository Repository
	Memory     memory.Store
	Reviewer   Reviewer
}

func (d Deps) validate() error {
	var missing []string
	if d.Directory == nil {
		missing = append(missing, "directory")
	}
	if d.Generator == nil {
		missing = append(missing, "generator")
	}
	if d.Gate == nil {
		missing = append(missing, "test gate")
	}
	if d.Workspace == nil {
		missing = append(missing, "workspace")
	}
	if d.Repository == nil {
		missing = append(missing, "repository")
	}
	if d.Memory == nil {
		missing = append(missing, "memory")
	}
	if d.Reviewer == nil {
		missing = append(missing, "reviewer")
	}
	if len(missing) > 0 {
		return &config.ConfigurationError{Missing: missing}
	}
	return nil
}
