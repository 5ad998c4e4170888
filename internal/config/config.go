// Package config reads the server's settings from the environment.
//
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Env      string
	Port     int
	LogLevel slog.Level

	StoreDriver   string
	DBPath        string
	MongoURI      string
	MongoDatabase string
	PostgresURI   string
	RedisURI      string // empty: revoked tokens are kept in memory

	JWTSecret string
	TokenTTL  time.Duration

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	AllowedOrigins []string
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Env:                strings.ToLower(getEnv("ENV", "development")),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		DBPath:             getEnv("DB_PATH", "data/journal.db"),
		MongoURI:           getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGODB_DATABASE", "journal"),
		PostgresURI:        getEnv("POSTGRES_URI", ""),
		RedisURI:           getEnv("REDIS_URI", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		AllowedOrigins:     parseOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	var err error
	if cfg.Port, err = strconv.Atoi(getEnv("PORT", "8080")); err != nil || cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: invalid PORT %q", os.Getenv("PORT"))
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("config: invalid LOG_LEVEL: %w", err)
	}
	if ttl := getEnv("TOKEN_TTL", ""); ttl != "" {
		if cfg.TokenTTL, err = time.ParseDuration(ttl); err != nil || cfg.TokenTTL <= 0 {
			return nil, fmt.Errorf("config: invalid TOKEN_TTL %q", ttl)
		}
	}
	cfg.GitHubCallbackURL = getEnv("GITHUB_CALLBACK_URL",
		fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return errors.New("config: DB_PATH is required for the sqlite store")
		}
	case DriverMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errors.New("config: MONGODB_URI and MONGODB_DATABASE are required for the mongo store")
		}
	case DriverPostgres:
		if c.PostgresURI == "" {
			return errors.New("config: POSTGRES_URI is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be set to at least 16 characters")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		return errors.New("config: GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GitHubEnabled reports whether the GitHub login routes should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
