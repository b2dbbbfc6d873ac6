package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load loads and validates configuration from a YAML file with environment
// variable substitution. Placeholders of the form ${VAR} are replaced with the
// value of the environment variable VAR when set.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		absPath = configPath
	}
	cfg.baseDir = filepath.Dir(absPath)

	applyDefaults(&cfg)
	resolveProfilePaths(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads the config at path, or returns a default config when the
// file does not exist. Any other error is returned to the caller.
func LoadOrDefault(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return nil, err
}

// resolveProfilePaths makes every relative profile working directory absolute
// by resolving it against the config file's directory.
func resolveProfilePaths(cfg *Config) {
	if cfg.baseDir == "" {
		return
	}
	for _, p := range cfg.Profiles {
		wd := strings.TrimSpace(p.WorkingDirectory)
		if wd == "" || filepath.IsAbs(wd) {
			continue
		}
		p.WorkingDirectory = filepath.Join(cfg.baseDir, wd)
	}
}
