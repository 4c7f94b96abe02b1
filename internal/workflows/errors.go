package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/devpipe/internal/config"
	"github.com/fyrsmithlabs/devpipe/internal/github"
	"github.com/fyrsmithlabs/devpipe/internal/llm"
	"github.com/fyrsmithlabs/devpipe/internal/orchestrator"
	"github.com/fyrsmithlabs/devpipe/internal/testgate"
)

// Application error types. Activity errors cross the Temporal boundary as
// *temporal.ApplicationError; these types let the workflow rebuild the
// collaborator error the executor classifies.
const (
	ErrTypeConfiguration = "ConfigurationError"
	ErrTypeGeneration    = "GenerationError"
	ErrTypeTestGate      = "TestGateError"
	ErrTypeRepository    = "RepositoryError"
	// ErrTypePipelineFailed is returned by the workflow when the run ended
	// with a fatal error. Its details hold the *orchestrator.Report.
	ErrTypePipelineFailed = "PipelineFailed"
)

const (
	sentinelUnboundRole  = "unbound-role"
	sentinelNoTester     = "no-tester"
	sentinelNotMergeable = "not-mergeable"
)

// errorDetail is the payload attached to encoded activity errors.
type errorDetail struct {
	Role     string            `json:"role,omitempty"`
	Op       string            `json:"op,omitempty"`
	Cause    string            `json:"cause,omitempty"`
	Sentinel string            `json:"sentinel,omitempty"`
	Verdict  *testgate.Verdict `json:"verdict,omitempty"`
	Missing  []string          `json:"missing,omitempty"`
	Invalid  []string          `json:"invalid,omitempty"`
}

func (d errorDetail) cause() error {
	switch d.Sentinel {
	case sentinelUnboundRole:
		return llm.ErrUnboundRole
	case sentinelNoTester:
		return testgate.ErrNoTester
	case sentinelNotMergeable:
		return github.ErrNotMergeable
	}
	return errors.New(d.Cause)
}

// encode turns a collaborator error into an application error. Errors that
// carry a sentinel will fail the same way on retry and are non-retryable.
func encode(err error) error {
	if err == nil {
		return nil
	}

	var (
		cfgErr  *config.ConfigurationError
		gateErr *testgate.Error
		genErr  *llm.GenerationError
		repoErr *github.RepositoryError
	)
	switch {
	case errors.As(err, &cfgErr):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfiguration, nil,
			errorDetail{Missing: cfgErr.Missing, Invalid: cfgErr.Invalid})

	case errors.As(err, &gateErr):
		v := gateErr.Verdict
		d := errorDetail{Op: gateErr.Op, Cause: gateErr.Err.Error(), Verdict: &v}
		if errors.Is(err, testgate.ErrNoTester) {
			d.Sentinel = sentinelNoTester
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTestGate, nil, d)

	case errors.As(err, &genErr):
		d := errorDetail{Role: genErr.Role, Cause: genErr.Err.Error()}
		if errors.Is(err, llm.ErrUnboundRole) {
			d.Sentinel = sentinelUnboundRole
			return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeGeneration, nil, d)
		}
		return temporal.NewApplicationError(err.Error(), ErrTypeGeneration, d)

	case errors.As(err, &repoErr):
		// The gateway already retries transient failures.
		d := errorDetail{Op: repoErr.Operation, Cause: repoErr.Err.Error()}
		if errors.Is(err, github.ErrNotMergeable) {
			d.Sentinel = sentinelNotMergeable
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRepository, nil, d)
	}
	return err
}

// decode rebuilds the collaborator error behind an activity failure.
// Cancellation becomes context.Canceled so the executor reports the run as
// cancelled.
func decode(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return fmt.Errorf("%w: %v", context.Canceled, err)
	}

	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}
	var d errorDetail
	if appErr.HasDetails() {
		if derr := appErr.Details(&d); derr != nil {
			return err
		}
	}

	switch appErr.Type() {
	case ErrTypeConfiguration:
		return &config.ConfigurationError{Missing: d.Missing, Invalid: d.Invalid}
	case ErrTypeTestGate:
		gateErr := &testgate.Error{Op: d.Op, Err: d.cause()}
		if d.Verdict != nil {
			gateErr.Verdict = *d.Verdict
		}
		return gateErr
	case ErrTypeGeneration:
		return &llm.GenerationError{Role: d.Role, Err: d.cause()}
	case ErrTypeRepository:
		return &github.RepositoryError{Operation: d.Op, Err: d.cause()}
	}
	return err
}

// pipelineFailed wraps the fatal error of a run with its report.
func pipelineFailed(report *orchestrator.Report, err error) error {
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePipelineFailed, nil, report)
}

// ReportFromError extracts the report carried by a PipelineFailed error.
func ReportFromError(err error) (*orchestrator.Report, bool) {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != ErrTypePipelineFailed || !appErr.HasDetails() {
		return nil, false
	}
	var report orchestrator.Report
	if err := appErr.Details(&report); err != nil {
		return nil, false
	}
	return &report, true
}
