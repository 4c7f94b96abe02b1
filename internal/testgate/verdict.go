// Package testgate runs generated tests and reduces their output to a
// Verdict. Only the exit code is authoritative; the pass and fail counts are
// a substring heuristic kept for display.
package testgate

import (
	"errors"
	"fmt"
	"strings"
)

// Verdict is the reduced result of one test run.
type Verdict struct {
	Output   string `json:"output"`
	Errors   string `json:"errors"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Summary  string `json:"summary"`
	ExitCode int    `json:"exit_code"`
}

// Ok reports whether the run may proceed to publication.
func (v Verdict) Ok() bool {
	return v.ExitCode == 0
}

// NoTesterVerdict is returned when no tester role is bound.
func NoTesterVerdict() Verdict {
	return Verdict{Summary: "no tester available", ExitCode: 1}
}

// reduce counts the literal PASSED and FAILED markers in stdout.
func reduce(stdout, stderr string, exitCode int) Verdict {
	passed := strings.Count(stdout, "PASSED")
	failed := strings.Count(stdout, "FAILED")
	return Verdict{
		Output:   strings.TrimSpace(stdout),
		Errors:   strings.TrimSpace(stderr),
		Passed:   passed,
		Failed:   failed,
		Summary:  fmt.Sprintf("%d passed, %d failed", passed, failed),
		ExitCode: exitCode,
	}
}

// ErrNoTester means tests cannot be generated, so nothing can be gated.
var ErrNoTester = errors.New("no tester available")

// Error is a test gate failure: a missing tester or a runner that could not
// start. A failing test run is a Verdict, not an Error.
type Error struct {
	Op      string
	Err     error
	Verdict Verdict
}

func (e *Error) Error() string {
	return fmt.Sprintf("test gate %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
