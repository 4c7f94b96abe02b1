package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID   string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Scanner wraps a gitleaks detector built once from the default rules.
type Scanner struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScanner builds a scanner honoring allowlist, which may be nil.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if allowlist != nil && len(allowlist.Regexes) > 0 {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Scanner{detector: detector}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "devpipe allowlist"}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// Scan returns every secret in content.
func (s *Scanner) Scan(content string) []Finding {
	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return findings
}

// Guard fails with *LeakError when content named name carries a secret.
func (s *Scanner) Guard(name, content string) error {
	findings := s.Scan(content)
	if len(findings) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var rules []string
	for _, f := range findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			rules = append(rules, f.RuleID)
		}
	}
	sort.Strings(rules)
	return &LeakError{Name: name, Rules: rules}
}

// Redact replaces every secret in content with [REDACTED:<rule>].
func (s *Scanner) Redact(content string) (string, int) {
	findings := s.Scan(content)
	if len(findings) == 0 {
		return content, 0
	}
	redacted := content
	for _, f := range findings {
		if f.Match == "" {
			continue
		}
		redacted = strings.ReplaceAll(redacted, f.Match, fmt.Sprintf("[REDACTED:%s]", f.RuleID))
	}
	return redacted, len(findings)
}
