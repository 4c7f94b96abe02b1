package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.GitHub.Token = "ghp_test"
	cfg.GitHub.Repo = "acme/widgets"
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 0.0001)
	assert.Equal(t, "agents", cfg.Agents.Dir)
	assert.Equal(t, 3, cfg.Pipeline.MaxRevisions)
	assert.Equal(t, ".py", cfg.Pipeline.CodeExt)
	assert.Equal(t, ".md", cfg.Pipeline.DocExt)
	assert.True(t, cfg.Pipeline.ScanSecrets)
	assert.Equal(t, ReviewTerminal, cfg.Review.Mode)
	assert.Equal(t, "devpipe", cfg.Temporal.TaskQueue)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantMissing []string
		wantInvalid []string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "enumerates every missing setting",
			mutate: func(c *Config) {
				c.GitHub.Token = ""
				c.GitHub.Repo = ""
				c.LLM.Model = ""
				c.LLM.APIKey = ""
			},
			wantMissing: []string{"github.token", "github.repo", "llm.model", "llm.api_key"},
		},
		{
			name:        "repo must be owner slash name",
			mutate:      func(c *Config) { c.GitHub.Repo = "widgets" },
			wantInvalid: []string{"github.repo"},
		},
		{
			name: "ollama needs no api key",
			mutate: func(c *Config) {
				c.LLM.Provider = "ollama"
				c.LLM.APIKey = ""
			},
		},
		{
			name:        "unknown provider",
			mutate:      func(c *Config) { c.LLM.Provider = "palm" },
			wantInvalid: []string{"llm.provider"},
		},
		{
			name:        "redis memory is rejected",
			mutate:      func(c *Config) { c.Memory.URL = "redis://localhost:6379" },
			wantInvalid: []string{"memory.url"},
		},
		{
			name:   "sqlite memory is accepted",
			mutate: func(c *Config) { c.Memory.URL = "sqlite:///var/lib/devpipe/memory.db" },
		},
		{
			name:        "test command needs placeholder",
			mutate:      func(c *Config) { c.TestGate.Command = "pytest -q" },
			wantInvalid: []string{"testgate.command"},
		},
		{
			name:        "unknown review mode",
			mutate:      func(c *Config) { c.Review.Mode = "carrier-pigeon" },
			wantInvalid: []string{"review.mode"},
		},
		{
			name: "missing and invalid are reported together",
			mutate: func(c *Config) {
				c.GitHub.Token = ""
				c.Pipeline.MaxRevisions = -1
			},
			wantMissing: []string{"github.token"},
			wantInvalid: []string{"pipeline.max_revisions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if len(tt.wantMissing) == 0 && len(tt.wantInvalid) == 0 {
				require.NoError(t, err)
				return
			}

			var cerr *ConfigurationError
			require.True(t, errors.As(err, &cerr), "want *ConfigurationError, got %T", err)
			assert.Len(t, cerr.Missing, len(tt.wantMissing))
			assert.Len(t, cerr.Invalid, len(tt.wantInvalid))
			for _, key := range append(tt.wantMissing, tt.wantInvalid...) {
				assert.Contains(t, err.Error(), key)
			}
		})
	}
}

func TestValidate_APIKeyHintFollowsProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key (DEVPIPE_LLM_API_KEY)")
	assert.NotContains(t, err.Error(), "OPENAI_API_KEY")

	cfg.LLM.Provider = "openai"
	assert.Contains(t, cfg.Validate().Error(), "llm.api_key (OPENAI_API_KEY)")
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "supersecret")
	assert.Equal(t, "ghp_supersecret", s.Value())

	data, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}
