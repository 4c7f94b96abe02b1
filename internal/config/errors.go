package config

import (
	"fmt"
	"strings"
)

// ConfigurationError lists every missing or invalid setting found during
// validation. It is returned before any pipeline stage runs.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) missing(key string) {
	e.Missing = append(e.Missing, key)
}

func (e *ConfigurationError) invalid(key, reason string) {
	e.Invalid = append(e.Invalid, key+": "+reason)
}

// Empty reports whether no problem was recorded.
func (e *ConfigurationError) Empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing required settings: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid settings: %s", strings.Join(e.Invalid, "; ")))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}
