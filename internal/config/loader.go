package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every devpipe environment variable.
	EnvPrefix = "DEVPIPE_"
)

// defaultYAML is loaded first so booleans that default to true survive a
// YAML file or environment that leaves them unset.
const defaultYAML = `
github:
  requests_per_second: 5
llm:
  provider: openai
  model: gpt-4o
  temperature: 0.3
  max_tokens: 4096
  timeout: 2m
  requests_per_second: 2
  max_concurrency: 3
agents:
  dir: agents
memory:
  url: "memory://"
pipeline:
  workdir: "."
  max_revisions: 3
  code_ext: .py
  test_ext: .py
  doc_ext: .md
  explain_failures: true
  scan_secrets: true
testgate:
  command: "pytest {target} --tb=short -q"
  timeout: 5m
review:
  mode: terminal
  timeout: 24h
temporal:
  host_port: "localhost:7233"
  namespace: default
  task_queue: devpipe
events:
  subject_prefix: pipeline
server:
  host: localhost
  port: 8088
  shutdown_timeout: 10s
log:
  level: info
  format: console
telemetry:
  endpoint: "localhost:4317"
  protocol: grpc
  insecure: true
`

// envAliases maps conventional variable names onto config keys. They are
// loaded before the DEVPIPE_ variables, which win on conflict.
var envAliases = map[string]string{
	"GITHUB_TOKEN":   "github.token",
	"GITHUB_REPO":    "github.repo",
	"OPENAI_API_KEY": "llm.api_key",
	"PROVIDER":       "llm.provider",
	"MODEL":          "llm.model",
	"BASE_URL":       "llm.base_url",
	"TEMPERATURE":    "llm.temperature",
	"MAX_TOKENS":     "llm.max_tokens",
	"AGENTS_FOLDER":  "agents.dir",
	"MEMORY_URL":     "memory.url",
}

// Load reads configuration from the default file location and the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables, then validates the result.
//
// Precedence (highest to lowest):
//  1. DEVPIPE_<SECTION>_<FIELD> variables (DEVPIPE_LLM_MAX_TOKENS -> llm.max_tokens)
//  2. Conventional aliases (GITHUB_TOKEN, GITHUB_REPO, OPENAI_API_KEY, MODEL, ...)
//  3. YAML config file (~/.config/devpipe/config.yaml by default)
//  4. Built-in defaults
//
// The file must live under ~/.config/devpipe/ or /etc/devpipe/, be mode
// 0600 or 0400, and be smaller than 1MB. A missing file is not an error.
//
// Validation failures are returned as *ConfigurationError so callers can
// list every missing setting at once.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if err := loadFile(k, configPath); err != nil {
		return nil, err
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, configPath string) error {
	f, err := os.Open(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", configPath, err)
	}
	return nil
}

func loadEnv(k *koanf.Koanf) error {
	aliases := env.Provider("", ".", func(s string) string {
		return envAliases[s]
	})
	if err := k.Load(aliases, nil); err != nil {
		return fmt.Errorf("failed to load environment aliases: %w", err)
	}

	// Split on the first underscore only: DEVPIPE_PIPELINE_MAX_REVISIONS
	// becomes pipeline.max_revisions.
	prefixed := env.Provider(EnvPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		section, field, ok := strings.Cut(lower, "_")
		if !ok {
			return lower
		}
		return section + "." + field
	})
	if err := k.Load(prefixed, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// DefaultConfigDir returns ~/.config/devpipe.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "devpipe"), nil
}

// validateConfigPath checks that path is inside an allowed directory.
// It runs even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	userDir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/devpipe"} {
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			dir = real
		}
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/devpipe/ or /etc/devpipe/")
}

// validateConfigFileProperties checks permissions and size of an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
