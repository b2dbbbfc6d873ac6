package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, "single", cfg.DefaultMode)
	assert.Equal(t, 3, cfg.MaxReviewRounds)
	assert.Equal(t, 30*time.Minute, cfg.StaleLockAfter.Std())
	assert.Equal(t, 5*time.Second, cfg.CancelWait.Std())
	assert.Equal(t, ProviderAnthropic, cfg.Backend.Provider)
	assert.NotEmpty(t, cfg.Backend.Model)
	assert.Equal(t, DefaultMaxTokens, cfg.Backend.MaxTokens)
	require.NoError(t, validateConfig(cfg))
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  provider: ollama
  model: llama3.2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.Backend.Provider)
	assert.Equal(t, "llama3.2", cfg.Backend.Model)
	assert.Equal(t, 3, cfg.MaxReviewRounds)
	assert.Equal(t, "single", cfg.DefaultMode)
	assert.Equal(t, filepath.Dir(path), cfg.BaseDir())
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
stale_lock_after: 1h
cancel_wait: 250ms
backend:
  provider: echo
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.StaleLockAfter.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.CancelWait.Std())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
stale_lock_after: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_CONDUCTOR_MODEL", "gpt-5-mini")
	path := writeConfig(t, `
backend:
  provider: openai
  model: ${TEST_CONDUCTOR_MODEL}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mini", cfg.Backend.Model)
}

func TestLoadLeavesUnknownEnvVarPlaceholder(t *testing.T) {
	path := writeConfig(t, `
health_addr: ${DEFINITELY_NOT_SET_12345}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${DEFINITELY_NOT_SET_12345}", cfg.HealthAddr)
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
backend:
  provider: quantum
  model: q1
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend provider")
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := Default()
	cfg.DefaultMode = "turbo"
	require.Error(t, validateConfig(cfg))
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxReviewRounds)
}

func TestProfileLookup(t *testing.T) {
	cfg := Default()
	cfg.Profiles = map[string]*Profile{
		"default": {Model: "claude-sonnet-4-5"},
		"Fast":    {Model: "claude-haiku-4-5"},
	}

	p, name, ok := cfg.LookupProfile("Fast")
	require.True(t, ok)
	assert.Equal(t, "Fast", name)
	assert.Equal(t, "claude-haiku-4-5", p.Model)

	// Case-insensitive fallback.
	p, name, ok = cfg.LookupProfile("  fast ")
	require.True(t, ok)
	assert.Equal(t, "Fast", name)
	assert.Equal(t, "claude-haiku-4-5", p.Model)

	_, _, ok = cfg.LookupProfile("missing")
	assert.False(t, ok)
}

func TestResolveProfileFallbackChain(t *testing.T) {
	cfg := Default()

	// No profiles at all: built-in empty default.
	p, name := cfg.ResolveProfile("anything")
	require.NotNil(t, p)
	assert.Equal(t, DefaultProfileName, name)
	assert.Empty(t, p.Model)

	// First profile by sorted name when no "default" exists.
	cfg.Profiles = map[string]*Profile{
		"zeta":  {Model: "z"},
		"alpha": {Model: "a"},
	}
	p, name = cfg.ResolveProfile("")
	assert.Equal(t, "alpha", name)
	assert.Equal(t, "a", p.Model)

	// A profile named "default" wins over sorted-first.
	cfg.Profiles["default"] = &Profile{Model: "d"}
	_, name = cfg.ResolveProfile("")
	assert.Equal(t, "default", name)

	// Configured default_profile wins over everything.
	cfg.DefaultProfile = "zeta"
	p, name = cfg.ResolveProfile("unknown")
	assert.Equal(t, "zeta", name)
	assert.Equal(t, "z", p.Model)
}

func TestProfileWorkingDirectoryResolution(t *testing.T) {
	path := writeConfig(t, `
backend:
  provider: echo
profiles:
  default:
    model: claude-sonnet-4-5
    working_directory: projects/api
  abs:
    working_directory: /srv/work
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p, _, ok := cfg.LookupProfile("default")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "projects", "api"), p.WorkingDirectory)

	p, _, ok = cfg.LookupProfile("abs")
	require.True(t, ok)
	assert.Equal(t, "/srv/work", p.WorkingDirectory)
}

func TestProfileAgentOverrides(t *testing.T) {
	path := writeConfig(t, `
backend:
  provider: echo
profiles:
  default:
    model: claude-sonnet-4-5
    agent_models:
      single.developer: claude-opus-4-5
    agent_system_prompts:
      single.reviewer: "Be strict."
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p, _, ok := cfg.LookupProfile("default")
	require.True(t, ok)
	assert.Equal(t, "claude-opus-4-5", p.AgentModels["single.developer"])
	assert.Equal(t, "Be strict.", p.AgentPrompts["single.reviewer"])
}

func TestAPIKeyEnvVar(t *testing.T) {
	assert.Equal(t, EnvAnthropicAPIKey, APIKeyEnvVar(ProviderAnthropic))
	assert.Equal(t, EnvOpenAIAPIKey, APIKeyEnvVar(ProviderOpenAI))
	assert.Equal(t, EnvGoogleAPIKey, APIKeyEnvVar(ProviderGoogle))
	assert.Empty(t, APIKeyEnvVar(ProviderOllama))
	assert.Empty(t, APIKeyEnvVar(ProviderEcho))
}

func TestResolveAPIKey(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	cfg := Default()
	cfg.Backend.Provider = ProviderAnthropic

	SetDecryptedSecrets(map[string]string{EnvAnthropicAPIKey: "sk-test"})
	require.NoError(t, ResolveAPIKey(cfg))
	assert.Equal(t, "sk-test", cfg.Backend.APIKey)

	// Local providers need no key.
	cfg = Default()
	cfg.Backend.Provider = ProviderEcho
	SetDecryptedSecrets(nil)
	require.NoError(t, ResolveAPIKey(cfg))
	assert.Empty(t, cfg.Backend.APIKey)
}
