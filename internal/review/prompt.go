package review

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
)

// Prompt asks for a decision on a line-oriented stream. It suits pipes and
// terminals without cursor support.
type Prompt struct {
	lines <-chan string
	out   io.Writer
}

// NewPrompt reads decisions from in and writes prompts to out.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return &Prompt{lines: lines, out: out}
}

func (p *Prompt) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Review prints a summary and asks until it gets APPROVED or NEEDS_REVISION.
func (p *Prompt) Review(ctx context.Context, req orchestrator.ReviewRequest) (orchestrator.Review, error) {
	fmt.Fprintln(p.out, Summary(req))

	for {
		fmt.Fprint(p.out, "Decision [APPROVED/NEEDS_REVISION]: ")
		line, err := p.readLine(ctx)
		if err != nil {
			return orchestrator.Review{}, fmt.Errorf("read decision: %w", err)
		}
		decision, ok := orchestrator.ParseDecision(line)
		if !ok {
			fmt.Fprintf(p.out, "%q is not a decision.\n", line)
			continue
		}

		rv := orchestrator.Review{Decision: decision, Reviewer: "prompt"}
		if decision == orchestrator.NeedsRevision {
			fmt.Fprint(p.out, "Feedback: ")
			feedback, err := p.readLine(ctx)
			if err != nil && err != io.EOF {
				return orchestrator.Review{}, fmt.Errorf("read feedback: %w", err)
			}
			rv.Feedback = feedback
		}
		return rv, nil
	}
}
