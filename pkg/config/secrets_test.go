package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		EnvAnthropicAPIKey: "sk-ant-test",
		EnvOpenAIAPIKey:    "sk-oa-test",
	}

	require.NoError(t, EncryptSecretsFile(dir, "hunter2", secrets))
	assert.True(t, SecretsFileExists(dir))

	decrypted, err := DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)
}

func TestDecryptWrongPassword(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "right", map[string]string{"K": "v"}))

	_, err := DecryptSecretsFile(dir, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong password or corrupted")
}

func TestDecryptCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, secretsFileName), []byte("short"), 0600))

	_, err := DecryptSecretsFile(dir, "pw")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupted or invalid")
}

func TestDecryptFixesLoosePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"K": "v"}))

	path := filepath.Join(dir, secretsFileName)
	require.NoError(t, os.Chmod(path, 0644))

	_, err := DecryptSecretsFile(dir, "pw")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv("CONDUCTOR_TEST_SECRET", "from-env")

	// Environment fallback when no secrets are loaded.
	SetDecryptedSecrets(nil)
	value, err := GetSecret("CONDUCTOR_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	// In-memory secrets win over the environment.
	SetDecryptedSecrets(map[string]string{"CONDUCTOR_TEST_SECRET": "from-file"})
	value, err = GetSecret("CONDUCTOR_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)

	_, err = GetSecret("CONDUCTOR_TEST_MISSING")
	require.Error(t, err)
}

func TestSetSecretAndNames(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	SetDecryptedSecrets(nil)
	SetSecret("A", "1")
	SetSecret("B", "2")

	names := SecretNames()
	assert.ElementsMatch(t, []string{"A", "B"}, names)
}

func TestDetectCredential(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })

	status := DetectCredential(ProviderOllama)
	assert.True(t, status.Available)
	assert.Equal(t, "none required", status.Source)

	SetDecryptedSecrets(map[string]string{EnvAnthropicAPIKey: "sk"})
	status = DetectCredential(ProviderAnthropic)
	assert.True(t, status.Available)
	assert.Equal(t, "secrets", status.Source)

	SetDecryptedSecrets(nil)
	t.Setenv(EnvOpenAIAPIKey, "sk-env")
	status = DetectCredential(ProviderOpenAI)
	assert.True(t, status.Available)
	assert.Equal(t, "env", status.Source)
}
