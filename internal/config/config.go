// Package config provides configuration loading for devpipe.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete devpipe configuration.
//
// Every section carries koanf tags so the same struct is populated from the
// YAML file and from environment variables (see LoadWithFile).
type Config struct {
	GitHub    GitHubConfig    `koanf:"github"`
	LLM       LLMConfig       `koanf:"llm"`
	Agents    AgentsConfig    `koanf:"agents"`
	Memory    MemoryConfig    `koanf:"memory"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	TestGate  TestGateConfig  `koanf:"testgate"`
	Review    ReviewConfig    `koanf:"review"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Events    EventsConfig    `koanf:"events"`
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// GitHubConfig configures the repository gateway.
type GitHubConfig struct {
	Token             Secret  `koanf:"token"`
	Repo              string  `koanf:"repo"`
	BaseURL           string  `koanf:"base_url"`
	Workflow          string  `koanf:"workflow"`
	AutoMerge         bool    `koanf:"auto_merge"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// Owner returns the owner half of Repo.
func (g GitHubConfig) Owner() string {
	owner, _, _ := strings.Cut(g.Repo, "/")
	return owner
}

// Name returns the repository half of Repo.
func (g GitHubConfig) Name() string {
	_, name, _ := strings.Cut(g.Repo, "/")
	return name
}

// LLMConfig selects the language-model backend.
type LLMConfig struct {
	Provider          string        `koanf:"provider"`
	Model             string        `koanf:"model"`
	APIKey            Secret        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	Temperature       float64       `koanf:"temperature"`
	MaxTokens         int           `koanf:"max_tokens"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	MaxConcurrency    int           `koanf:"max_concurrency"`
}

// AgentsConfig points at the agent profile directory.
type AgentsConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	URL string `koanf:"url"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	WorkDir         string `koanf:"workdir"`
	MaxRevisions    int    `koanf:"max_revisions"`
	CodeExt         string `koanf:"code_ext"`
	TestExt         string `koanf:"test_ext"`
	DocExt          string `koanf:"doc_ext"`
	ExplainFailures bool   `koanf:"explain_failures"`
	ScanSecrets     bool   `koanf:"scan_secrets"`
}

// TestGateConfig configures the test subprocess.
type TestGateConfig struct {
	Command string        `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
}

// ReviewConfig selects where review decisions come from.
type ReviewConfig struct {
	Mode    string        `koanf:"mode"`
	Timeout time.Duration `koanf:"timeout"`
}

// TemporalConfig configures the durable workflow backend.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// EventsConfig configures the NATS transition publisher.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig configures the review HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig holds the logging knobs exposed through config.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds the OpenTelemetry knobs exposed through config.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// Review modes.
const (
	ReviewTerminal = "terminal"
	ReviewPrompt   = "prompt"
	ReviewAuto     = "auto"
	ReviewApprove  = "approve"
	ReviewHTTP     = "http"
)

var knownProviders = map[string]bool{"openai": true, "anthropic": true, "ollama": true}

var knownReviewModes = map[string]bool{
	ReviewTerminal: true, ReviewPrompt: true, ReviewAuto: true, ReviewApprove: true, ReviewHTTP: true,
}

// Default returns a Config populated with built-in defaults only. It does
// not validate: required credentials are unset.
func Default() *Config {
	k := koanf.New(".")
	var cfg Config
	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	return &cfg
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	cerr := &ConfigurationError{}

	if !c.GitHub.Token.IsSet() {
		cerr.missing("github.token (GITHUB_TOKEN)")
	}
	if c.GitHub.Repo == "" {
		cerr.missing("github.repo (GITHUB_REPO)")
	} else if owner, name, ok := strings.Cut(c.GitHub.Repo, "/"); !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		cerr.invalid("github.repo", fmt.Sprintf("must be owner/repo, got %q", c.GitHub.Repo))
	}

	if c.LLM.Provider == "" {
		cerr.missing("llm.provider (PROVIDER)")
	} else if !knownProviders[c.LLM.Provider] {
		cerr.invalid("llm.provider", fmt.Sprintf("unsupported provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		cerr.missing("llm.model (MODEL)")
	}
	if c.LLM.Provider != "ollama" && !c.LLM.APIKey.IsSet() {
		cerr.missing(apiKeyHint(c.LLM.Provider))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		cerr.invalid("llm.temperature", "must be between 0 and 2")
	}

	if c.Memory.URL != "" {
		if err := validateMemoryURL(c.Memory.URL); err != nil {
			cerr.invalid("memory.url", err.Error())
		}
	}

	if c.Pipeline.MaxRevisions < 0 {
		cerr.invalid("pipeline.max_revisions", "must be >= 0")
	}
	if !strings.Contains(c.TestGate.Command, "{target}") {
		cerr.invalid("testgate.command", "must contain the {target} placeholder")
	}
	if c.TestGate.Timeout <= 0 {
		cerr.invalid("testgate.timeout", "must be positive")
	}
	if !knownReviewModes[c.Review.Mode] {
		cerr.invalid("review.mode", fmt.Sprintf("unknown mode %q", c.Review.Mode))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		cerr.invalid("server.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port))
	}

	if cerr.Empty() {
		return nil
	}
	return cerr
}

func validateMemoryURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "memory":
		return nil
	case "file", "sqlite":
		if u.Path == "" && u.Host == "" {
			return fmt.Errorf("%s URL needs a path", u.Scheme)
		}
		return nil
	default:
		return fmt.Errorf("unsupported scheme %q (memory, file, sqlite)", u.Scheme)
	}
}

// apiKeyHint names llm.api_key with the variable that sets it for provider.
// OPENAI_API_KEY is only an alias for the openai provider.
func apiKeyHint(provider string) string {
	if provider == "openai" {
		return "llm.api_key (OPENAI_API_KEY)"
	}
	return "llm.api_key (DEVPIPE_LLM_API_KEY)"
}
