// Package agents loads role profiles from a directory and resolves them by
// role.
//
// A profile is a JSON, YAML or TOML record with the required fields name,
// role, goal and backstory. Records that fail to parse or miss a field are
// skipped with a warning so one bad file never empties the directory.
package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Well-known roles.
const (
	RoleDeveloper  = "developer"
	RoleTester     = "tester"
	RoleDocumenter = "documenter"
	RoleReviewer   = "reviewer"
)

// Handle is a capability profile bound to a role. It carries the persona the
// generation client turns into a system prompt.
type Handle struct {
	Name      string `json:"name" yaml:"name" toml:"name"`
	Role      string `json:"role" yaml:"role" toml:"role"`
	Goal      string `json:"goal" yaml:"goal" toml:"goal"`
	Backstory string `json:"backstory" yaml:"backstory" toml:"backstory"`

	// Source is the file the profile was read from.
	Source string `json:"-" yaml:"-" toml:"-"`
}

// Persona renders the handle as a system prompt.
func (h *Handle) Persona() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, acting as the team's %s.\n", h.Name, h.Role)
	fmt.Fprintf(&b, "Goal: %s\n", h.Goal)
	fmt.Fprintf(&b, "Background: %s", h.Backstory)
	return b.String()
}

func (h *Handle) validate() error {
	var missing []string
	if strings.TrimSpace(h.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(h.Role) == "" {
		missing = append(missing, "role")
	}
	if strings.TrimSpace(h.Goal) == "" {
		missing = append(missing, "goal")
	}
	if strings.TrimSpace(h.Backstory) == "" {
		missing = append(missing, "backstory")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// supported reports whether path has a profile extension.
func supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// parseProfile decodes one profile file, choosing the decoder by extension.
func parseProfile(path string) (*Handle, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- path comes from a directory walk
	if err != nil {
		return nil, err
	}

	var h Handle
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(content))
		if err := dec.Decode(&h); err != nil {
			return nil, fmt.Errorf("decoding json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &h); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(content), &h); err != nil {
			return nil, fmt.Errorf("decoding toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported profile format %q", filepath.Ext(path))
	}

	if err := h.validate(); err != nil {
		return nil, err
	}
	h.Source = path
	return &h, nil
}
