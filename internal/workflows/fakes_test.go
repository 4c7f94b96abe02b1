package workflows

import (
	"context"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/memory"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/fyrsmithlabs/devpipe/internal/workspace"
	"github.com/stretchr/testify/require"
)

var finder = orchestrator.Task{
	Name:        "Website Endpoint Finder",
	Description: "Recursively crawl a website and return every internal endpoint.",
}

const testCode = "def test_finds_root():\n    assert find('/') == ['/']\n"

func fullTeam() agents.Snapshot {
	return agents.Snapshot{
		agents.RoleDeveloper:  {Name: "Dev", Role: agents.RoleDeveloper},
		agents.RoleTester:     {Name: "QA", Role: agents.RoleTester},
		agents.RoleDocumenter: {Name: "Docs", Role: agents.RoleDocumenter},
	}
}

type fakeAgents struct{ snap agents.Snapshot }

func (f fakeAgents) Load(context.Context) (int, error) { return len(f.snap), nil }
func (f fakeAgents) Snapshot() agents.Snapshot         { return f.snap }

type fakeGenerator struct{}

func (fakeGenerator) RunTeam(_ context.Context, tasks []llm.TeamTask) ([]llm.Outcome, error) {
	out := make([]llm.Outcome, len(tasks))
	for i, task := range tasks {
		out[i].Role = task.Role
		if task.Handle == nil {
			out[i].Err = &llm.GenerationError{Role: task.Role, Err: llm.ErrUnboundRole}
			continue
		}
		text := map[string]string{
			agents.RoleDeveloper:  "def find(url): ...\n",
			agents.RoleTester:     testCode,
			agents.RoleDocumenter: "# Finder\n",
		}[task.Role]
		out[i].Result = llm.Result{Kind: llm.Success, Text: text}
	}
	return out, nil
}

func (fakeGenerator) Readme(context.Context, string, string) (llm.Result, error) {
	return llm.Result{Kind: llm.Success, Text: "# Readme\n"}, nil
}

type fakeGate struct {
	verdict testgate.Verdict
}

func (g *fakeGate) GenerateTestCode(_ context.Context, tester *agents.Handle, _, _, _ string) (string, error) {
	if tester == nil {
		return "", &testgate.Error{Op: "generate", Err: testgate.ErrNoTester, Verdict: testgate.NoTesterVerdict()}
	}
	return testCode, nil
}

func (g *fakeGate) Run(context.Context, string) (testgate.Verdict, error) {
	return g.verdict, nil
}

func (g *fakeGate) Explain(context.Context, *agents.Handle, testgate.Verdict) (string, error) {
	return "the crawler never returns the root", nil
}

type fakeRepo struct {
	mu       sync.Mutex
	pushes   []github.File
	merged    []int
	issueErr  error
	branchErr error
}

func (r *fakeRepo) FindOrCreateIssue(context.Context, string, string) (int, error) {
	if r.issueErr != nil {
		return 0, r.issueErr
	}
	return 42, nil
}

func (r *fakeRepo) DefaultBranch(context.Context) (string, error) {
	if r.branchErr != nil {
		return "", r.branchErr
	}
	return "main", nil
}

func (r *fakeRepo) Push(_ context.Context, f github.File, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, f)
	return nil
}

func (r *fakeRepo) CreatePullRequest(context.Context, string, string, string, int, string) (int, error) {
	return 7, nil
}

func (r *fakeRepo) Merge(_ context.Context, pr int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merged = append(r.merged, pr)
	return nil
}

func (r *fakeRepo) DispatchWorkflow(context.Context, string, string) error { return nil }

func (r *fakeRepo) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

type recorder struct {
	mu          sync.Mutex
	transitions []orchestrator.Transition
}

func (r *recorder) observe(t orchestrator.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []orchestrator.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]orchestrator.State, len(r.transitions))
	for i, t := range r.transitions {
		out[i] = t.To
	}
	return out
}

type harness struct {
	acts   *Activities
	gate   *fakeGate
	repo   *fakeRepo
	store  memory.Store
	events *recorder
	logger *logging.TestLogger
}

func newHarness(t *testing.T, team agents.Snapshot) *harness {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	store, err := memory.Open(context.Background(), "memory://")
	require.NoError(t, err)

	h := &harness{
		gate:   &fakeGate{verdict: testgate.Verdict{Passed: 1, Summary: "1 passed, 0 failed"}},
		repo:   &fakeRepo{},
		store:  store,
		events: &recorder{},
		logger: logging.NewTestLogger(),
	}
	h.acts = &Activities{
		Agents:     fakeAgents{snap: team},
		Generator:  fakeGenerator{},
		Gate:       h.gate,
		Workspace:  ws,
		Repository: h.repo,
		Memory:     store,
		Observers:  []orchestrator.Observer{h.events.observe},
		Logger:     h.logger.Logger,
	}
	return h
}
