package review

import (
	"context"
	"io"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/stretchr/testify/mock"
)

// MockGenerator is a mock implementation of Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, h *agents.Handle, prompt string) (llm.Result, error) {
	args := m.Called(ctx, h, prompt)
	return args.Get(0).(llm.Result), args.Error(1)
}

// ioPipe returns a reader that blocks until the writer is closed.
func ioPipe() (io.Reader, io.Closer) {
	r, w := io.Pipe()
	return r, w
}
