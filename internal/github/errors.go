package github

import (
	"errors"
	"fmt"
)

// ErrNotMergeable means GitHub reported the pull request cannot be merged.
var ErrNotMergeable = errors.New("pull request is not mergeable")

// RepositoryError is an operation-scoped gateway failure.
type RepositoryError struct {
	Operation string
	Err       error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("github %s: %v", e.Operation, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Operation: op, Err: err}
}
