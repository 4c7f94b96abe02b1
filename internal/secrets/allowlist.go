package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist holds content patterns that are never reported.
type Allowlist struct {
	Regexes []string
}

// LoadAllowlist reads the [allowlist] table of <dir>/.gitleaks.toml. A
// missing file yields an empty allowlist.
func LoadAllowlist(dir string) (*Allowlist, error) {
	if dir == "" {
		return &Allowlist{}, nil
	}
	path := filepath.Join(dir, ".gitleaks.toml")

	var file struct {
		Allowlist struct {
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: file.Allowlist.Regexes}, nil
}
