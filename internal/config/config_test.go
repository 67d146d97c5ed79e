package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rand/chatbattery/internal/generate"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, generate.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, DefaultSystemPrompt, cfg.LLM.SystemPrompt)
	assert.True(t, cfg.Retry.Unbounded())
	assert.Equal(t, time.Second, cfg.Retry.Backoff)
	assert.Equal(t, 1.0, cfg.Decision.Threshold)
	assert.Equal(t, 4, cfg.Session.Workers)
	assert.Equal(t, 5, cfg.Session.MaxRounds)
	assert.Equal(t, "Na", cfg.Session.Material)
}

func TestLoad(t *testing.T) {
	// Keep the real environment out of the result.
	for _, k := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "MP_API_KEY", "CHATBATTERY_LLM_MODEL"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())

	t.Run("missing default file uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().LLM.Model, cfg.LLM.Model)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := Load("nope.yaml")
		assert.Error(t, err)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cb.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: anthropic
  model: claude-haiku
retry:
  max_attempts: 3
  backoff: 250ms
session:
  workers: 2
`), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, generate.ProviderAnthropic, cfg.LLM.Provider)
		assert.Equal(t, "claude-haiku", cfg.LLM.Model)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.Retry.Backoff)
		assert.Equal(t, 2, cfg.Session.Workers)
		assert.Equal(t, 5, cfg.Session.MaxRounds, "unset fields keep defaults")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("dotenv supplies keys", func(t *testing.T) {
		require.NoError(t, os.WriteFile(".env", []byte("CHATBATTERY_LLM_MODEL=from-dotenv\n"), 0644))
		defer os.Remove(".env")
		// godotenv does not override variables that are already set.
		os.Unsetenv("CHATBATTERY_LLM_MODEL")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "from-dotenv", cfg.LLM.Model)
		os.Unsetenv("CHATBATTERY_LLM_MODEL")
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("session:\n  workers: 0\n"), 0644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session.workers")
	})
}

func TestApplyEnv(t *testing.T) {
	t.Run("overrides", func(t *testing.T) {
		cfg := Default()
		err := cfg.applyEnv(envMap(map[string]string{
			"CHATBATTERY_LLM_PROVIDER":       "openrouter",
			"CHATBATTERY_LLM_TEMPERATURE":    "0.7",
			"CHATBATTERY_RETRY_MAX_ATTEMPTS": "4",
			"CHATBATTERY_RETRY_BACKOFF":      "2s",
			"CHATBATTERY_SESSION_WORKERS":    "8",
			"CHATBATTERY_REGISTRY_ENABLED":   "false",
			"OPENROUTER_API_KEY":             "or-key",
			"MP_API_KEY":                     "mp-key",
		}))
		require.NoError(t, err)

		assert.Equal(t, generate.ProviderOpenRouter, cfg.LLM.Provider)
		assert.Equal(t, 0.7, cfg.LLM.Temperature)
		assert.Equal(t, 4, cfg.Retry.MaxAttempts)
		assert.Equal(t, 2*time.Second, cfg.Retry.Backoff)
		assert.Equal(t, 8, cfg.Session.Workers)
		assert.False(t, cfg.Registry.Enabled)
		assert.Equal(t, "or-key", cfg.LLM.APIKey)
		assert.Equal(t, "mp-key", cfg.Registry.APIKey)
	})

	t.Run("explicit keys win", func(t *testing.T) {
		cfg := Default()
		cfg.LLM.APIKey = "from-yaml"
		require.NoError(t, cfg.applyEnv(envMap(map[string]string{"OPENAI_API_KEY": "from-env"})))
		assert.Equal(t, "from-yaml", cfg.LLM.APIKey)
	})

	t.Run("parse errors are collected", func(t *testing.T) {
		cfg := Default()
		err := cfg.applyEnv(envMap(map[string]string{
			"CHATBATTERY_LLM_TEMPERATURE":  "hot",
			"CHATBATTERY_RETRY_BACKOFF":    "soon",
			"CHATBATTERY_REGISTRY_ENABLED": "maybe",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CHATBATTERY_LLM_TEMPERATURE")
		assert.Contains(t, err.Error(), "CHATBATTERY_RETRY_BACKOFF")
		assert.Contains(t, err.Error(), "CHATBATTERY_REGISTRY_ENABLED")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"provider", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.provider"},
		{"model", func(c *Config) { c.LLM.Model = " " }, "llm.model"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "retry.max_attempts"},
		{"threshold", func(c *Config) { c.Decision.Threshold = 0 }, "decision.threshold"},
		{"rounds", func(c *Config) { c.Session.MaxRounds = 0 }, "session.max_rounds"},
		{"rps", func(c *Config) { c.Registry.RPS = 0 }, "registry.rps"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("registry rps ignored when disabled", func(t *testing.T) {
		cfg := Default()
		cfg.Registry.Enabled = false
		cfg.Registry.RPS = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-1234567890"
	cfg.Registry.APIKey = "ab"

	r := cfg.Redacted()
	assert.Equal(t, "sk-1...", r.LLM.APIKey)
	assert.Equal(t, "ab...", r.Registry.APIKey)
	assert.Equal(t, "sk-1234567890", cfg.LLM.APIKey, "original untouched")

	out, err := yaml.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "567890")
	assert.Contains(t, string(out), "backoff: 1s")
}
