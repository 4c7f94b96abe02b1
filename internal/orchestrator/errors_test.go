package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"configuration", &config.ConfigurationError{Missing: []string{"github.token"}}, KindConfiguration},
		{"generation", &llm.GenerationError{Role: "developer", Err: errors.New("boom")}, KindGeneration},
		{"wrapped generation", fmt.Errorf("team: %w", &llm.GenerationError{Role: "tester", Err: errors.New("boom")}), KindGeneration},
		{"test gate", &testgate.Error{Op: "run", Err: errors.New("exec: not found")}, KindTestGate},
		{"repository", &github.RepositoryError{Operation: github.OpPush, Err: errors.New("403")}, KindRepository},
		{"unknown", errors.New("disk full"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := classify(StatePushed, tt.err, SeverityWarning)
			assert.Equal(t, tt.want, se.Kind)
			assert.Equal(t, StatePushed, se.Stage)
			assert.False(t, se.Fatal())
			assert.ErrorIs(t, se, tt.err)
		})
	}
}

func TestClassify_KeepsStageErrorKind(t *testing.T) {
	inner := &StageError{Stage: StateIssueEnsured, Kind: KindRepository, Severity: SeverityWarning, Err: errors.New("x")}
	se := classify(StateReviewed, inner, SeverityFatal)

	assert.Equal(t, KindRepository, se.Kind)
	assert.Equal(t, StateReviewed, se.Stage)
	assert.True(t, se.Fatal())
	assert.Contains(t, se.Error(), "repository at REVIEWED (fatal)")
}

func TestIsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	assert.False(t, isCancellation(ctx, context.Canceled))

	cancel()
	assert.True(t, isCancellation(ctx, context.Canceled))
	assert.True(t, isCancellation(ctx, fmt.Errorf("push: %w", context.Canceled)))
	assert.False(t, isCancellation(ctx, errors.New("403")))
}
