package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoadClientEnv_Defaults(t *testing.T) {
	for _, key := range []string{"ROOMCHAT_ADDR", "ROOMCHAT_TOKEN_URL", "ROOMCHAT_REFRESH_ATTEMPTS", "ROOMCHAT_EXPIRY_WARNING"} {
		unsetenv(t, key)
	}

	env, err := LoadClientEnv()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8000", env.Addr)
	assert.Equal(t, "http://localhost:5000", env.TokenURL)
	assert.Equal(t, 3, env.RefreshAttempts)
	assert.Equal(t, 3*time.Minute, env.ExpiryWarning)
}

func TestLoadClientEnv_Overrides(t *testing.T) {
	t.Setenv("ROOMCHAT_ADDR", ":9000")
	t.Setenv("ROOMCHAT_ALLOWED_ORIGINS", "http://a.example,http://b.example")
	t.Setenv("ROOMCHAT_REFRESH_DELAY", "500ms")

	env, err := LoadClientEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9000", env.Addr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, env.AllowedOrigins)
	assert.Equal(t, 500*time.Millisecond, env.RefreshDelay)
}

func TestLoadServiceEnv_Dotenv(t *testing.T) {
	unsetenv(t, "CHATSERVICE_TOKEN_TTL")
	unsetenv(t, "CHATSERVICE_NATS_URL")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHATSERVICE_TOKEN_TTL=15m\nCHATSERVICE_NATS_URL=nats://nats:4222\n"), 0o600))

	env, err := LoadServiceEnv(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, env.TokenTTL)
	assert.Equal(t, "nats://nats:4222", env.NatsURL)
	assert.Equal(t, "localhost:5000", env.Addr)
}

func TestLoadServiceEnv_MissingDotenv(t *testing.T) {
	_, err := LoadServiceEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadServiceEnv_Invalid(t *testing.T) {
	t.Setenv("CHATSERVICE_TOKEN_TTL", "forever")

	_, err := LoadServiceEnv()
	assert.Error(t, err)
}
