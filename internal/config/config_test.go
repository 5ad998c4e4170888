package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

// clearEnv blanks every variable FromEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENV", "PORT", "LOG_LEVEL", "STORE_DRIVER", "DB_PATH", "MONGODB_URI",
		"MONGODB_DATABASE", "POSTGRES_URI", "REDIS_URI", "JWT_SECRET", "TOKEN_TTL",
		"GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET", "GITHUB_CALLBACK_URL", "ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "data/journal.db", cfg.DBPath)
	assert.Equal(t, time.Duration(0), cfg.TokenTTL)
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHubCallbackURL)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.False(t, cfg.GitHubEnabled())
	assert.Empty(t, cfg.RedisURI)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ENV", "Production")
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_URI", "postgres://localhost/journal")
	t.Setenv("TOKEN_TTL", "24h")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.GitHubEnabled())
	assert.Equal(t, "http://localhost:9000/auth/github/callback", cfg.GitHubCallbackURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"short secret", map[string]string{"JWT_SECRET": "short"}},
		{"bad port", map[string]string{"PORT": "http"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"bad ttl", map[string]string{"TOKEN_TTL": "a week"}},
		{"negative ttl", map[string]string{"TOKEN_TTL": "-1h"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "dynamo"}},
		{"postgres without uri", map[string]string{"STORE_DRIVER": "postgres"}},
		{"half github config", map[string]string{"GITHUB_CLIENT_ID": "id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SECRET", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
