package config

import "os"

// API key environment variable names per provider.
// Add new providers here as they're supported.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
)

// APIKeyEnvVar returns the environment variable / secret name holding the API
// key for a provider, or "" for providers that need no key.
func APIKeyEnvVar(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderGoogle:
		return EnvGoogleAPIKey
	default:
		return ""
	}
}

// CredentialStatus reports which backend providers have usable credentials.
type CredentialStatus struct {
	Provider  string // Provider being checked
	Available bool   // Whether a credential (or no credential requirement) exists
	Source    string // "secrets", "env", or "none required"
}

// DetectCredential checks the secrets store and environment for the provider's
// API key. Local providers (ollama, echo) always report available.
func DetectCredential(provider string) CredentialStatus {
	status := CredentialStatus{Provider: provider}

	envVar := APIKeyEnvVar(provider)
	if envVar == "" {
		status.Available = true
		status.Source = "none required"
		return status
	}

	decryptedSecretsMux.RLock()
	inMemory := decryptedSecrets[envVar] != ""
	decryptedSecretsMux.RUnlock()

	switch {
	case inMemory:
		status.Available = true
		status.Source = "secrets"
	case os.Getenv(envVar) != "":
		status.Available = true
		status.Source = "env"
	}
	return status
}

// ResolveAPIKey fills in cfg.Backend.APIKey from the secrets store or
// environment. Providers without a key requirement are a no-op. A missing key
// is returned as an error so startup can fail with a clear message.
func ResolveAPIKey(cfg *Config) error {
	envVar := APIKeyEnvVar(cfg.Backend.Provider)
	if envVar == "" {
		return nil
	}
	key, err := GetSecret(envVar)
	if err != nil {
		return err
	}
	cfg.Backend.APIKey = key
	return nil
}
