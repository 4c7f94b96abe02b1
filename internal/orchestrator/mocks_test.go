package orchestrator

import (
	"context"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock implementation of Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) RunTeam(ctx context.Context, tasks []llm.TeamTask) ([]llm.Outcome, error) {
	args := m.Called(ctx, tasks)
	outcomes, _ := args.Get(0).([]llm.Outcome)
	return outcomes, args.Error(1)
}

func (m *MockGenerator) Readme(ctx context.Context, name, description string) (llm.Result, error) {
	args := m.Called(ctx, name, description)
	return args.Get(0).(llm.Result), args.Error(1)
}

// MockGate is a mock implementation of TestGate
type MockGate struct {
	mock.Mock
}

func (m *MockGate) GenerateTestCode(ctx context.Context, tester *agents.Handle, fn, description, ext string) (string, error) {
	args := m.Called(ctx, tester, fn, description, ext)
	return args.String(0), args.Error(1)
}

func (m *MockGate) Run(ctx context.Context, target string) (testgate.Verdict, error) {
	args := m.Called(ctx, target)
	return args.Get(0).(testgate.Verdict), args.Error(1)
}

func (m *MockGate) Explain(ctx context.Context, tester *agents.Handle, v testgate.Verdict) (string, error) {
	args := m.Called(ctx, tester, v)
	return args.String(0), args.Error(1)
}

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindOrCreateIssue(ctx context.Context, title, body string) (int, error) {
	args := m.Called(ctx, title, body)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) DefaultBranch(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) Push(ctx context.Context, file github.File, branch string) error {
	args := m.Called(ctx, file, branch)
	return args.Error(0)
}

func (m *MockRepository) CreatePullRequest(ctx context.Context, title, branch, base string, issue int, description string) (int, error) {
	args := m.Called(ctx, title, branch, base, issue, description)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Merge(ctx context.Context, pr int) error {
	args := m.Called(ctx, pr)
	return args.Error(0)
}

func (m *MockRepository) DispatchWorkflow(ctx context.Context, workflow, ref string) error {
	args := m.Called(ctx, workflow, ref)
	return args.Error(0)
}

// MockReviewer is a mock implementation of Reviewer
type MockReviewer struct {
	mock.Mock
}

func (m *MockReviewer) Review(ctx context.Context, req ReviewRequest) (Review, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Review), args.Error(1)
}
