package llm

import (
	"errors"
	"fmt"
)

// Kind tags a Result.
type Kind int

const (
	// Success means the model answered with usable text.
	Success Kind = iota
	// Degraded means the model answered but the answer did not conform; Raw
	// holds its printed form for inspection.
	Degraded
)

func (k Kind) String() string {
	if k == Success {
		return "success"
	}
	return "degraded"
}

// Result is the uniform return of every generation call.
type Result struct {
	Kind Kind
	Text string
	Raw  string
}

// Ok reports whether the result carries usable text.
func (r Result) Ok() bool {
	return r.Kind == Success && r.Text != ""
}

// ErrUnboundRole is reported for team tasks whose role has no handle.
var ErrUnboundRole = errors.New("no agent bound to role")

// GenerationError carries the role whose generation failed.
type GenerationError struct {
	Role string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for role %s: %v", e.Role, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
