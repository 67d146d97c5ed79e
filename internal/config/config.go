// Package config loads chatbattery settings from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rand/chatbattery/internal/generate"
)

// EnvPrefix prefixes every chatbattery environment override.
const EnvPrefix = "CHATBATTERY_"

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "chatbattery.yaml"

// Config is the full chatbattery configuration.
type Config struct {
	LLM       LLMConfig            `yaml:"llm" json:"llm"`
	Retry     generate.RetryPolicy `yaml:"retry" json:"retry"`
	Decision  DecisionConfig       `yaml:"decision" json:"decision"`
	Session   SessionConfig        `yaml:"session" json:"session"`
	Reference ReferenceConfig      `yaml:"reference" json:"reference"`
	Registry  RegistryConfig       `yaml:"registry" json:"registry"`
	Oracle    OracleConfig         `yaml:"oracle" json:"oracle"`
	Log       LogConfig            `yaml:"log" json:"log"`
}

// LLMConfig configures the candidate generator.
type LLMConfig struct {
	// Provider is openai, anthropic or openrouter.
	Provider string `yaml:"provider" json:"provider"`

	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`

	// BaseURL points openai or anthropic at a compatible endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// APIKey defaults to the provider's usual environment variable.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// SystemPrompt opens every conversation. Empty disables it.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

// DecisionConfig configures candidate acceptance.
type DecisionConfig struct {
	// Threshold multiplies the input capacity; candidates must exceed it.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// SessionConfig configures a session run.
type SessionConfig struct {
	// Workers bounds concurrent decide and repair work.
	Workers int `yaml:"workers" json:"workers"`

	// MaxRounds caps the rounds of one run.
	MaxRounds int `yaml:"max_rounds" json:"max_rounds"`

	// Material names the cathode family in prompts, e.g. "Na".
	Material string `yaml:"material" json:"material"`
}

// ReferenceConfig locates the reference collection.
type ReferenceConfig struct {
	// Path is a CSV with a formula column, or an imported SQLite database.
	Path string `yaml:"path" json:"path"`
}

// RegistryConfig configures the Materials Project lookup.
type RegistryConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	RPS     float64       `yaml:"rps" json:"rps"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// OracleConfig configures the Python domain bridge.
type OracleConfig struct {
	Python  string        `yaml:"python" json:"python"`
	Module  string        `yaml:"module" json:"module"`
	Attr    string        `yaml:"attr" json:"attr"`
	WorkDir string        `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// DefaultSystemPrompt is the system message of a new conversation.
const DefaultSystemPrompt = "You are an expert in the field of material and chemistry."

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:     generate.ProviderOpenAI,
			Model:        "gpt-4o-mini",
			Temperature:  0,
			MaxTokens:    1000,
			SystemPrompt: DefaultSystemPrompt,
		},
		Retry: generate.DefaultRetryPolicy(),
		Decision: DecisionConfig{
			Threshold: 1.0,
		},
		Session: SessionConfig{
			Workers:   4,
			MaxRounds: 5,
			Material:  "Na",
		},
		Reference: ReferenceConfig{
			Path: "data/Na_battery/preprocessed.csv",
		},
		Registry: RegistryConfig{
			Enabled: true,
			BaseURL: "https://api.materialsproject.org",
			RPS:     5,
			Timeout: 30 * time.Second,
		},
		Oracle: OracleConfig{
			Python:  "python3",
			Module:  "ChatBattery.domain_agent",
			Attr:    "Domain_Agent",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if it exists), then the environment. A .env file in the working
// directory is loaded first when present. An empty path means DefaultPath.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	num("LLM_TEMPERATURE", &c.LLM.Temperature)
	integer("LLM_MAX_TOKENS", &c.LLM.MaxTokens)
	integer("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	duration("RETRY_BACKOFF", &c.Retry.Backoff)
	num("DECISION_THRESHOLD", &c.Decision.Threshold)
	integer("SESSION_WORKERS", &c.Session.Workers)
	integer("SESSION_MAX_ROUNDS", &c.Session.MaxRounds)
	str("SESSION_MATERIAL", &c.Session.Material)
	str("REFERENCE_PATH", &c.Reference.Path)
	str("ORACLE_PYTHON", &c.Oracle.Python)
	str("ORACLE_MODULE", &c.Oracle.Module)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	if v, ok := lookup(EnvPrefix + "REGISTRY_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREGISTRY_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Registry.Enabled = b
		}
	}

	if c.LLM.APIKey == "" {
		if v, ok := lookup(providerKeyEnv(c.LLM.Provider)); ok {
			c.LLM.APIKey = v
		}
	}
	if c.Registry.APIKey == "" {
		if v, ok := lookup("MP_API_KEY"); ok {
			c.Registry.APIKey = v
		}
	}

	return errors.Join(errs...)
}

// providerKeyEnv names the conventional API key variable of a provider.
func providerKeyEnv(provider string) string {
	switch provider {
	case generate.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case generate.ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// Validate checks field ranges. Missing API keys are not errors here; the
// commands that need a provider or the registry report them.
func (c Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case generate.ProviderOpenAI, generate.ProviderAnthropic, generate.ProviderOpenRouter:
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v out of range [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, errors.New("llm.max_tokens must not be negative"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must not be negative"))
	}
	if c.Retry.Backoff < 0 {
		errs = append(errs, errors.New("retry.backoff must not be negative"))
	}
	if c.Decision.Threshold <= 0 {
		errs = append(errs, errors.New("decision.threshold must be positive"))
	}
	if c.Session.Workers < 1 {
		errs = append(errs, errors.New("session.workers must be at least 1"))
	}
	if c.Session.MaxRounds < 1 {
		errs = append(errs, errors.New("session.max_rounds must be at least 1"))
	}
	if c.Registry.Enabled && c.Registry.RPS <= 0 {
		errs = append(errs, errors.New("registry.rps must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with secrets shortened for display.
func (c Config) Redacted() Config {
	c.LLM.APIKey = redact(c.LLM.APIKey)
	c.Registry.APIKey = redact(c.Registry.APIKey)
	return c
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	n := min(len(key), 4)
	return key[:n] + "..."
}
