package review

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/devpipe/internal/agents"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/logging"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"go.uber.org/zap"
)

// maxArtifactChars caps how much of each artifact the reviewer sees.
const maxArtifactChars = 12000

// Generator is the single-prompt half of *llm.Client.
type Generator interface {
	Generate(ctx context.Context, h *agents.Handle, prompt string) (llm.Result, error)
}

// Auto asks an LLM agent to review the pull request.
type Auto struct {
	gen    Generator
	dir    orchestrator.Directory
	logger *logging.Logger
}

// NewAuto reviews with the reviewer role, or the tester when no reviewer is
// bound.
func NewAuto(gen Generator, dir orchestrator.Directory, logger *logging.Logger) *Auto {
	return &Auto{gen: gen, dir: dir, logger: logger.Named("review")}
}

func (a *Auto) handle() *agents.Handle {
	if h, ok := a.dir.Resolve(agents.RoleReviewer); ok {
		return h
	}
	h, _ := a.dir.Resolve(agents.RoleTester)
	return h
}

// Review asks for a decision. An answer without a recognisable decision
// counts as NEEDS_REVISION.
func (a *Auto) Review(ctx context.Context, req orchestrator.ReviewRequest) (orchestrator.Review, error) {
	h := a.handle()
	if h == nil {
		return orchestrator.Review{}, &llm.GenerationError{Role: agents.RoleReviewer, Err: llm.ErrUnboundRole}
	}

	result, err := a.gen.Generate(ctx, h, reviewPrompt(req))
	if err != nil {
		return orchestrator.Review{}, &llm.GenerationError{Role: h.Role, Err: err}
	}
	if !result.Ok() {
		a.logger.Warn(ctx, "reviewer answer unusable; requesting revision", zap.String("raw", result.Raw))
		return orchestrator.Review{Decision: orchestrator.NeedsRevision, Feedback: "reviewer gave no usable answer", Reviewer: h.Name}, nil
	}

	rv := ParseAnswer(result.Text)
	rv.Reviewer = h.Name
	return rv, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n... (truncated)"
}

func reviewPrompt(req orchestrator.ReviewRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review pull request #%d for the feature %q.\n\n%s\n\n", req.PRNumber, req.Task.Name, req.Task.Description)
	fmt.Fprintf(&b, "Test run: %s (exit code %d)\n\n", req.Verdict.Summary, req.Verdict.ExitCode)
	for _, art := range req.Artifacts {
		if !art.Present() {
			fmt.Fprintf(&b, "### %s (%s)\n(missing)\n\n", art.Filename, art.Kind)
			continue
		}
		content := truncate(art.Content, maxArtifactChars)
		fmt.Fprintf(&b, "### %s (%s)\n%s\n\n", art.Filename, art.Kind, content)
	}
	b.WriteString("Answer with APPROVED or NEEDS_REVISION on the first line, followed by concrete feedback.\n")
	return b.String()
}

// ParseAnswer reads a decision from free text. The first line naming a
// decision wins and the rest is feedback. Text with no decision is
// NEEDS_REVISION with the whole text as feedback.
//
// Decisions are matched on whole words, so DISAPPROVED, UNAPPROVED and
// "not approved" all count as NEEDS_REVISION.
func ParseAnswer(text string) orchestrator.Review {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		decision, ok := lineDecision(line)
		if !ok {
			continue
		}
		feedback := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		return orchestrator.Review{Decision: decision, Feedback: feedback}
	}
	return orchestrator.Review{Decision: orchestrator.NeedsRevision, Feedback: strings.TrimSpace(text)}
}

func lineDecision(line string) (orchestrator.Decision, bool) {
	words := strings.FieldsFunc(strings.ToUpper(line), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	approved := false
	for i, w := range words {
		switch w {
		case "NEEDS_REVISION", "DISAPPROVED", "UNAPPROVED", "REJECTED":
			return orchestrator.NeedsRevision, true
		case "REVISION":
			if i > 0 && words[i-1] == "NEEDS" {
				return orchestrator.NeedsRevision, true
			}
		case "APPROVED":
			if i > 0 && words[i-1] == "NOT" {
				return orchestrator.NeedsRevision, true
			}
			approved = true
		}
	}
	if approved {
		return orchestrator.Approved, true
	}
	return "", false
}
