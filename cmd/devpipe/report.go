package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)
)

// renderReport formats the outcome of a run: terminal state, last completed
// stage and, when tests failed, the verdict a human needs to act on.
func renderReport(r *orchestrator.Report) string {
	var b strings.Builder

	state := fmt.Sprintf("%s(%s)", orchestrator.StateTerminated, r.Reason)
	if r.Succeeded() {
		b.WriteString(okStyle.Render("✓ "+state) + "\n\n")
	} else {
		b.WriteString(failStyle.Render("✗ "+state) + "\n\n")
	}

	row := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)) + " " + valueStyle.Render(value) + "\n")
	}
	row("Task", r.Task.Name)
	row("Run", r.RunID)
	row("Last stage", string(r.LastCompleted))
	if r.IssueNumber > 0 {
		row("Issue", fmt.Sprintf("#%d", r.IssueNumber))
	}
	if r.PRNumber > 0 {
		row("Pull request", fmt.Sprintf("#%d", r.PRNumber))
		row("Branch", r.Branch)
	}
	if r.Iterations > 0 {
		row("Passes", fmt.Sprintf("%d (%d revisions)", r.Iterations, r.Revisions))
	}
	if r.Review != nil {
		reviewer := r.Review.Reviewer
		if reviewer == "" {
			reviewer = "unknown"
		}
		row("Review", fmt.Sprintf("%s by %s", r.Review.Decision, reviewer))
	}
	if r.Merged {
		row("Merged", "yes")
	}
	if r.Dispatched {
		row("Workflow", "dispatched")
	}
	if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
		row("Duration", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String())
	}

	if r.Verdict != nil {
		b.WriteString("\n" + labelStyle.Render("Tests") + " " + valueStyle.Render(r.Verdict.Summary) +
			dimStyle.Render(fmt.Sprintf(" (exit %d)", r.Verdict.ExitCode)) + "\n")
		if r.Reason == orchestrator.ReasonTestsFailed {
			if out := strings.TrimSpace(r.Verdict.Output); out != "" {
				b.WriteString(boxStyle.Render(out) + "\n")
			}
			if errs := strings.TrimSpace(r.Verdict.Errors); errs != "" {
				b.WriteString(boxStyle.Render(errs) + "\n")
			}
		}
	}
	if r.Explanation != "" {
		b.WriteString("\n" + labelStyle.Render("Explanation") + "\n" + r.Explanation + "\n")
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\n" + warnStyle.Render(fmt.Sprintf("%d warning(s)", len(r.Warnings))) + "\n")
		for _, w := range r.Warnings {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  %s [%s] ", w.Stage, w.Kind)) + w.Message + "\n")
		}
	}
	if r.Error != "" {
		b.WriteString("\n" + failStyle.Render("Error: ") + r.Error + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
