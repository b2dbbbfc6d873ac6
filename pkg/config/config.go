// Package config provides configuration loading, validation, and management for the
// coordinator. It handles YAML config files, environment variable substitution,
// execution profiles, and the encrypted secrets store.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend provider constants.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderEcho      = "echo"
)

// Config file constants.
const (
	ConfigFilename = "config.yaml"
	UserConfigDir  = ".conductor"
	SchemaVersion  = "1.0"
)

// Default values applied when the config file omits a field.
const (
	DefaultDataDir          = ".conductor"
	DefaultMode             = "single"
	DefaultMaxReviewRounds  = 3
	DefaultStaleLockAfter   = 30 * time.Minute
	DefaultCancelWait       = 5 * time.Second
	DefaultRunTimeout       = 10 * time.Minute
	DefaultHealthAddr       = ":8090"
	DefaultMaxTokens        = 4096
	DefaultTemperature      = 0.3
	DefaultMaxRetries       = 3
	DefaultMaxContextTokens = 64000
	DefaultProfileName      = "default"
)

// Duration wraps time.Duration so YAML configs can use values like "30m" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Backend configures the model backend used to execute instructions.
type Backend struct {
	Provider         string  `yaml:"provider"`
	Model            string  `yaml:"model"`
	Host             string  `yaml:"host"` // Ollama server URL; ignored by cloud providers
	APIKey           string  `yaml:"-"`    // Resolved from secrets or environment, never from the file
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float32 `yaml:"temperature"`
	MaxRetries       int     `yaml:"max_retries"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
	RateLimitTPM     int     `yaml:"rate_limit_tpm"` // Tokens per minute; 0 disables local rate limiting
}

// Profile is a named execution preset: a model, a working directory, and
// optional per-agent overrides keyed by agent name (e.g. "single.developer").
type Profile struct {
	Model            string            `yaml:"model"`
	WorkingDirectory string            `yaml:"working_directory"`
	AgentModels      map[string]string `yaml:"agent_models"`
	AgentPrompts     map[string]string `yaml:"agent_system_prompts"`
}

// Config represents the full coordinator configuration.
type Config struct {
	DataDir         string              `yaml:"data_dir"`
	DefaultMode     string              `yaml:"default_mode"`
	MaxReviewRounds int                 `yaml:"max_review_rounds"`
	StaleLockAfter  Duration            `yaml:"stale_lock_after"`
	CancelWait      Duration            `yaml:"cancel_wait"`
	RunTimeout      Duration            `yaml:"run_timeout"`
	HealthAddr      string              `yaml:"health_addr"`
	PrometheusURL   string              `yaml:"prometheus_url"`
	Backend         Backend             `yaml:"backend"`
	DefaultProfile  string              `yaml:"default_profile"`
	Profiles        map[string]*Profile `yaml:"profiles"`

	// Directory containing the config file, used to resolve relative
	// profile working directories. Empty for configs not loaded from disk.
	baseDir string
}

// Default returns a config populated with all default values.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = DefaultMode
	}
	if cfg.MaxReviewRounds <= 0 {
		cfg.MaxReviewRounds = DefaultMaxReviewRounds
	}
	if cfg.StaleLockAfter == 0 {
		cfg.StaleLockAfter = Duration(DefaultStaleLockAfter)
	}
	if cfg.CancelWait == 0 {
		cfg.CancelWait = Duration(DefaultCancelWait)
	}
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = Duration(DefaultRunTimeout)
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = DefaultHealthAddr
	}
	if cfg.Backend.Provider == "" {
		cfg.Backend.Provider = ProviderAnthropic
	}
	if cfg.Backend.MaxTokens <= 0 {
		cfg.Backend.MaxTokens = DefaultMaxTokens
	}
	if cfg.Backend.Temperature <= 0 {
		cfg.Backend.Temperature = DefaultTemperature
	}
	if cfg.Backend.MaxRetries <= 0 {
		cfg.Backend.MaxRetries = DefaultMaxRetries
	}
	if cfg.Backend.MaxContextTokens <= 0 {
		cfg.Backend.MaxContextTokens = DefaultMaxContextTokens
	}
	if cfg.Backend.Model == "" && cfg.Backend.Provider != ProviderEcho {
		cfg.Backend.Model = defaultModelFor(cfg.Backend.Provider)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]*Profile{}
	}
}

func defaultModelFor(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-5"
	case ProviderOpenAI:
		return "gpt-5"
	case ProviderGoogle:
		return "gemini-2.5-flash"
	case ProviderOllama:
		return "llama3.2"
	default:
		return ""
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Backend.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama, ProviderEcho:
	default:
		return fmt.Errorf("unknown backend provider %q", cfg.Backend.Provider)
	}
	if cfg.Backend.Provider != ProviderEcho && cfg.Backend.Model == "" {
		return fmt.Errorf("backend provider %q requires a model", cfg.Backend.Provider)
	}
	switch cfg.DefaultMode {
	case "single", "plan", "multi":
	default:
		return fmt.Errorf("unknown default mode %q", cfg.DefaultMode)
	}
	if cfg.MaxReviewRounds < 1 {
		return fmt.Errorf("max_review_rounds must be at least 1, got %d", cfg.MaxReviewRounds)
	}
	if cfg.Backend.RateLimitTPM < 0 {
		return fmt.Errorf("rate_limit_tpm must not be negative, got %d", cfg.Backend.RateLimitTPM)
	}
	return nil
}

// LookupProfile returns the profile stored under name. Lookup trims the name
// and falls back to a case-insensitive scan so "/profile Default" still
// resolves a profile registered as "default".
func (c *Config) LookupProfile(name string) (*Profile, string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", false
	}
	if p, ok := c.Profiles[name]; ok {
		return p, name, true
	}
	lower := strings.ToLower(name)
	for key, p := range c.Profiles {
		if strings.ToLower(key) == lower {
			return p, key, true
		}
	}
	return nil, "", false
}

// ResolveProfile returns the profile for name, or the default profile when the
// name is empty or unknown. It always returns a usable profile.
func (c *Config) ResolveProfile(name string) (*Profile, string) {
	if p, resolved, ok := c.LookupProfile(name); ok {
		return p, resolved
	}
	return c.defaultProfile()
}

// defaultProfile resolves the default in order: the configured default_profile
// name, then a profile literally named "default", then the first profile by
// sorted name, then an empty built-in profile.
func (c *Config) defaultProfile() (*Profile, string) {
	if p, resolved, ok := c.LookupProfile(c.DefaultProfile); ok {
		return p, resolved
	}
	if p, ok := c.Profiles[DefaultProfileName]; ok {
		return p, DefaultProfileName
	}
	if len(c.Profiles) > 0 {
		names := make([]string, 0, len(c.Profiles))
		for name := range c.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		return c.Profiles[names[0]], names[0]
	}
	return &Profile{}, DefaultProfileName
}

// ProfileNames returns all registered profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BaseDir returns the directory the config file was loaded from, or "" when
// the config was built in memory.
func (c *Config) BaseDir() string {
	return c.baseDir
}
