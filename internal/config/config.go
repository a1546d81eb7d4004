package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Turn numbering policies
const (
	NumberAttempts  = "attempts"
	NumberCommitted = "committed"
)

type Config struct {
	Port          string
	DBPath        string
	GameConfig    string
	ArchivePath   string
	Provider      string
	APIToken      string
	Slot          string
	TurnNumbering string
	LogLevel      string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("ADVENTURE_PORT", "8080"),
		DBPath:        getEnv("ADVENTURE_DB_PATH", ""),
		GameConfig:    getEnv("ADVENTURE_GAME_CONFIG", ""),
		ArchivePath:   getEnv("ADVENTURE_ARCHIVE_PATH", ""),
		Provider:      getEnv("ADVENTURE_PROVIDER", ""),
		APIToken:      getEnv("ADVENTURE_API_TOKEN", ""),
		Slot:          getEnv("ADVENTURE_SLOT", "default"),
		TurnNumbering: getEnv("ADVENTURE_TURN_NUMBERING", NumberAttempts),
		LogLevel:      getEnv("ADVENTURE_LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("ADVENTURE_DB_PATH is required")
	}
	if c.GameConfig == "" {
		return fmt.Errorf("ADVENTURE_GAME_CONFIG is required")
	}
	switch c.TurnNumbering {
	case NumberAttempts, NumberCommitted:
	default:
		return fmt.Errorf("ADVENTURE_TURN_NUMBERING must be %q or %q, got %q", NumberAttempts, NumberCommitted, c.TurnNumbering)
	}
	return nil
}

// Authorized reports whether a bearer token may use the API.
// With no token configured every request is allowed.
func (c *Config) Authorized(token string) bool {
	if c.APIToken == "" {
		return true
	}
	return token == c.APIToken
}

// SlogLevel maps the configured level name to a slog level
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
