package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
)

// Kind classifies a StageError by the collaborator that produced it.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindGeneration    Kind = "generation"
	KindTestGate      Kind = "test-gate"
	KindRepository    Kind = "repository"
	KindFatal         Kind = "fatal"
)

// Severity decides whether a StageError ends the run.
type Severity string

const (
	// SeverityFatal ends the run (FatalPipelineError).
	SeverityFatal Severity = "fatal"
	// SeverityWarning degrades the stage result (RecoverableStageWarning).
	SeverityWarning Severity = "warning"
)

// StageError is a collaborator error translated at a stage boundary.
type StageError struct {
	Stage    State
	Kind     Kind
	Severity Severity
	Err      error
}

// Error implements the error interface
func (e *StageError) Error() string {
	return fmt.Sprintf("%s at %s (%s): %v", e.Kind, e.Stage, e.Severity, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the collaborator error
func (e *StageError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error ends the run.
func (e *StageError) Fatal() bool {
	return e.Severity == SeverityFatal
}

// classify wraps err for stage. Errors that are already a StageError keep
// their kind; anything unrecognised becomes KindFatal.
func classify(stage State, err error, severity Severity) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return &StageError{Stage: stage, Kind: se.Kind, Severity: severity, Err: se.Err}
	}
	return &StageError{Stage: stage, Kind: kindOf(err), Severity: severity, Err: err}
}

func kindOf(err error) Kind {
	var (
		cfgErr  *config.ConfigurationError
		genErr  *llm.GenerationError
		gateErr *testgate.Error
		repoErr *github.RepositoryError
	)
	switch {
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &gateErr):
		return KindTestGate
	case errors.As(err, &genErr):
		return KindGeneration
	case errors.As(err, &repoErr):
		return KindRepository
	default:
		return KindFatal
	}
}

// isCancellation reports whether err came from the run's context ending.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
