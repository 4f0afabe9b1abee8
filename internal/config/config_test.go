package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into an empty directory so no stray .env is read.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

// unsetEnv removes key for the duration of the test, including any value
// godotenv sets while the test runs.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	old, ok := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if ok {
			_ = os.Setenv(key, old)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	for _, key := range []string{"APP_ENV", "PORT", "LOG_LEVEL", "STORE_DRIVER", "LOCK_TIMEOUT", "DB_NAME", "DB_MAX_CONNS", "DB_CONNECT_ATTEMPTS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.Development())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, "resax", cfg.DB.DBName)
	assert.Equal(t, 20, cfg.DB.MaxConns)
	assert.Equal(t, 5, cfg.DB.ConnectAttempts)
}

func TestLoad_Environment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("DB_MAX_CONNS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Development())
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 8, cfg.DB.MaxConns)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9999\nDB_NAME=fromfile\n"), 0o600))
	t.Setenv("PORT", "7000")
	unsetEnv(t, "DB_NAME")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "fromfile", cfg.DB.DBName)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string][2]string{
		"unknown driver":     {"STORE_DRIVER", "sqlite"},
		"bad timeout":        {"LOCK_TIMEOUT", "soon"},
		"bad max conns":      {"DB_MAX_CONNS", "many"},
		"zero max conns":     {"DB_MAX_CONNS", "0"},
		"no connect attempt": {"DB_CONNECT_ATTEMPTS", "0"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
