package review

import (
	"fmt"
	"strings"

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

	missingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)
)

// Summary renders what a human reviewer needs to decide.
func Summary(req orchestrator.ReviewRequest) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Review: "+req.Task.Name) + "\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", label)) + " " + valueStyle.Render(value) + "\n")
	}
	row("Issue", fmt.Sprintf("#%d", req.IssueNumber))
	row("PR", fmt.Sprintf("#%d", req.PRNumber))
	row("Branch", req.Branch)
	row("Pass", fmt.Sprintf("%d", req.Iteration))
	row("Tests", req.Verdict.Summary)

	b.WriteString("\n")
	for _, a := range req.Artifacts {
		status := okStyle.Render("✓")
		note := dimStyle.Render(fmt.Sprintf("%d bytes", len(a.Content)))
		if !a.Present() {
			status = missingStyle.Render("⚠")
			note = missingStyle.Render("no content")
		}
		b.WriteString(fmt.Sprintf("%s %-14s %s %s\n", status, a.Kind, a.Filename, note))
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
