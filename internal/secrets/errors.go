// Package secrets detects credentials in generated artifacts and memory
// turns using the gitleaks rule set.
package secrets

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// LeakError is returned by Guard when content carries secrets.
type LeakError struct {
	Name  string
	Rules []string
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("refusing to publish %s: detected %s", e.Name, strings.Join(e.Rules, ", "))
}
