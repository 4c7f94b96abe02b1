package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"go.uber.org/zap"
)

// TeamTask is one role's share of a team batch.
type TeamTask struct {
	Role           string
	Handle         *agents.Handle
	Name           string
	Description    string
	ExpectedOutput string
	// Context is shared background, typically the memory transcript.
	Context string
	// CodeExt, when set, asks for fenced code of that file type to be
	// extracted from the answer.
	CodeExt string
}

// Prompt renders the task for the model.
func (t TeamTask) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nExpected output: %s\n", t.Name, t.Description, t.ExpectedOutput)
	if t.Context != "" {
		fmt.Fprintf(&b, "\nConversation so far:\n%s\n", t.Context)
	}
	return b.String()
}

// Outcome is the result of one TeamTask. Err is a *GenerationError when set.
type Outcome struct {
	Role   string
	Result Result
	Err    error
}

// RunTeam runs every task concurrently and returns outcomes in task order.
// A failing or unbound role is reported on its own Outcome; the others still
// run. The returned error is non-nil only when ctx ends first.
func (c *Client) RunTeam(ctx context.Context, tasks []TeamTask) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		outcomes[i].Role = task.Role
		if task.Handle == nil {
			outcomes[i].Err = &GenerationError{Role: task.Role, Err: ErrUnboundRole}
			continue
		}

		wg.Add(1)
		go func(i int, task TeamTask) {
			defer wg.Done()
			result, err := c.Generate(ctx, task.Handle, task.Prompt())
			if err != nil {
				outcomes[i].Err = &GenerationError{Role: task.Role, Err: err}
				return
			}
			if task.CodeExt != "" && result.Kind == Success {
				result.Text = ExtractCode(result.Text, task.CodeExt)
			}
			outcomes[i].Result = result
		}(i, task)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	for _, o := range outcomes {
		if o.Err != nil {
			c.logger.Warn(ctx, "team member failed", zap.String("role", o.Role), zap.Error(o.Err))
		}
	}
	return outcomes, nil
}
