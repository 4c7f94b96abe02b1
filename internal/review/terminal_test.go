package review

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/stretchr/testify/assert"
)

func press(m model, keys ...tea.KeyMsg) (model, tea.Cmd) {
	var cmd tea.Cmd
	var next tea.Model = m
	for _, k := range keys {
		next, cmd = next.(model).Update(k)
	}
	return next.(model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_Approve(t *testing.T) {
	m, cmd := press(newModel(sampleRequest()), runes("a"))

	assert.Equal(t, orchestrator.Approved, m.decision)
	assert.Equal(t, decided, m.step)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_RequestRevisionWithFeedback(t *testing.T) {
	m, _ := press(newModel(sampleRequest()), runes("r"))
	assert.Equal(t, writingFeedback, m.step)
	assert.Contains(t, m.View(), "Feedback for the next pass")

	m, _ = press(m, runes("add"), runes(" "), runes("retries"))
	m, cmd := press(m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, orchestrator.NeedsRevision, m.decision)
	assert.Equal(t, "add retries", m.feedback)
	assert.Equal(t, decided, m.step)
	assert.NotNil(t, cmd)
}

func TestModel_EscapeReturnsToChoice(t *testing.T) {
	m, _ := press(newModel(sampleRequest()), runes("r"), runes("x"), tea.KeyMsg{Type: tea.KeyEsc})

	assert.Equal(t, choosing, m.step)
	assert.Empty(t, m.decision)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "approve")
}

func TestModel_Abort(t *testing.T) {
	for name, key := range map[string]tea.KeyMsg{
		"q":      runes("q"),
		"ctrl+c": {Type: tea.KeyCtrlC},
	} {
		t.Run(name, func(t *testing.T) {
			m, cmd := press(newModel(sampleRequest()), key)
			assert.True(t, m.aborted)
			assert.NotNil(t, cmd)
		})
	}
}

func TestModel_IgnoresOtherKeys(t *testing.T) {
	m, cmd := press(newModel(sampleRequest()), runes("z"))
	assert.Equal(t, choosing, m.step)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "Website Endpoint Finder")
}
