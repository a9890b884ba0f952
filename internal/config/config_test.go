package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/wanderwave-session/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, v := range []string{"API_BASE_URL", "REFRESH_INTERVAL", "REFRESH_LEEWAY", "CREDENTIAL_STORE", "REDIS_DB"} {
		t.Setenv(v, "")
	}
	c := config.New()
	require.Equal(t, "https://wander-wave-backend.onrender.com/api/", c.GetAPIBaseURL())
	require.Equal(t, time.Minute, c.GetRefreshInterval())
	require.Equal(t, 30*time.Second, c.GetRefreshLeeway())
	require.Equal(t, "file", c.GetCredentialStore())
	require.Equal(t, 0, c.GetRedisDB())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://127.0.0.1:8008/api")
	t.Setenv("REFRESH_INTERVAL", "5s")
	t.Setenv("REFRESH_LEEWAY", "not-a-duration")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_LEVEL", "DEBUG")

	c := config.New()
	require.Equal(t, "http://127.0.0.1:8008/api/", c.GetAPIBaseURL())
	require.Equal(t, 5*time.Second, c.GetRefreshInterval())
	require.Equal(t, 30*time.Second, c.GetRefreshLeeway())
	require.Equal(t, 3, c.GetRedisDB())
	require.Equal(t, "debug", c.GetLogLevel())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CREDENTIAL_STORE=redis\n"), 0o600))
	t.Setenv("CREDENTIAL_STORE", "")
	require.NoError(t, os.Unsetenv("CREDENTIAL_STORE"))

	c, err := config.Load(true, envFile)
	require.NoError(t, err)
	require.Equal(t, "redis", c.GetCredentialStore())
}

func TestLoadMissingDotEnv(t *testing.T) {
	_, err := config.Load(true, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
