package review

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
)

// Terminal asks for a decision with an interactive terminal UI.
type Terminal struct {
	in  io.Reader
	out io.Writer
}

// NewTerminal returns a terminal reviewer on in and out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// Review runs the UI until the operator decides or ctx ends.
func (t *Terminal) Review(ctx context.Context, req orchestrator.ReviewRequest) (orchestrator.Review, error) {
	p := tea.NewProgram(newModel(req), tea.WithInput(t.in), tea.WithOutput(t.out), tea.WithContext(ctx))
	final, err := p.Run()
	if ctx.Err() != nil {
		return orchestrator.Review{}, ctx.Err()
	}
	if err != nil {
		return orchestrator.Review{}, fmt.Errorf("review ui: %w", err)
	}

	m := final.(model)
	if m.aborted {
		return orchestrator.Review{}, ErrAborted
	}
	return orchestrator.Review{Decision: m.decision, Feedback: m.feedback, Reviewer: "terminal"}, nil
}

type step int

const (
	choosing step = iota
	writingFeedback
	decided
)

// model is the BubbleTea review model
type model struct {
	req      orchestrator.ReviewRequest
	input    textinput.Model
	step     step
	decision orchestrator.Decision
	feedback string
	aborted  bool
}

func newModel(req orchestrator.ReviewRequest) model {
	input := textinput.New()
	input.Placeholder = "what should change?"
	input.CharLimit = 2000
	input.Width = 60
	return model{req: req, input: input}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.step == writingFeedback {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	if key.Type == tea.KeyCtrlC {
		m.aborted = true
		return m, tea.Quit
	}

	switch m.step {
	case choosing:
		switch key.String() {
		case "a", "y":
			m.decision = orchestrator.Approved
			m.step = decided
			return m, tea.Quit
		case "r", "n":
			m.decision = orchestrator.NeedsRevision
			m.step = writingFeedback
			return m, m.input.Focus()
		case "q", "esc":
			m.aborted = true
			return m, tea.Quit
		}
		return m, nil

	case writingFeedback:
		switch key.Type {
		case tea.KeyEnter:
			m.feedback = m.input.Value()
			m.step = decided
			return m, tea.Quit
		case tea.KeyEsc:
			m.input.Blur()
			m.input.Reset()
			m.decision = ""
			m.step = choosing
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	if m.step == decided || m.aborted {
		return ""
	}
	view := Summary(m.req) + "\n\n"
	if m.step == writingFeedback {
		return view + "Feedback for the next pass:\n" + m.input.View() + "\n\n" +
			dimStyle.Render(keyStyle.Render("enter")+" submit  "+keyStyle.Render("esc")+" back")
	}
	return view + dimStyle.Render(keyStyle.Render("a")+" approve  "+keyStyle.Render("r")+" request revision  "+keyStyle.Render("q")+" abort")
}
