package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// Set required env vars
	os.Setenv("ADVENTURE_DB_PATH", "/tmp/test.db")
	os.Setenv("ADVENTURE_GAME_CONFIG", "/tmp/game.yaml")
	defer func() {
		os.Unsetenv("ADVENTURE_DB_PATH")
		os.Unsetenv("ADVENTURE_GAME_CONFIG")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("expected db path /tmp/test.db, got %s", cfg.DBPath)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}

	if cfg.Slot != "default" {
		t.Errorf("expected default slot, got %s", cfg.Slot)
	}

	if cfg.TurnNumbering != NumberAttempts {
		t.Errorf("expected attempts numbering by default, got %s", cfg.TurnNumbering)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	// Clear env vars
	os.Unsetenv("ADVENTURE_DB_PATH")
	os.Unsetenv("ADVENTURE_GAME_CONFIG")

	_, err := Load()
	if err == nil {
		t.Error("expected error when missing required config")
	}
}

func TestLoadConfigRejectsUnknownNumbering(t *testing.T) {
	t.Setenv("ADVENTURE_DB_PATH", "/tmp/d")
	t.Setenv("ADVENTURE_GAME_CONFIG", "/tmp/g")
	t.Setenv("ADVENTURE_TURN_NUMBERING", "sometimes")

	if _, err := Load(); err == nil {
		t.Error("expected error for unknown turn numbering policy")
	}
}

func TestAuthorized(t *testing.T) {
	open := &Config{}
	if !open.Authorized("") || !open.Authorized("anything") {
		t.Error("config without token should allow every request")
	}

	cfg := &Config{APIToken: "secret"}

	tests := []struct {
		token string
		want  bool
	}{
		{"secret", true},
		{"invalid", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := cfg.Authorized(tc.token); got != tc.want {
			t.Errorf("Authorized(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for name, want := range tests {
		cfg := &Config{LogLevel: name}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

const sampleGame = `
language: English
genre: gothic horror
lore_seed: A lighthouse keeper vanished on the night of the eclipse.
story_size: 250
npcs: 3
items: 4
stats: [health, sanity, courage]
models:
  narrator:
    provider: ollama
    create_params:
      model: llama3
      host: http://localhost:11434
      temperature: 0.7
      max_tokens: 400
  lore_generator:
    provider: ollama
    create_params:
      model: llama3
  summarizer:
    provider: openai
    create_params:
      model: gpt-4o-mini
`

func TestParseGame(t *testing.T) {
	g, err := ParseGame([]byte(sampleGame))
	if err != nil {
		t.Fatalf("parsing game: %v", err)
	}

	if g.Genre != "gothic horror" {
		t.Errorf("Genre = %q", g.Genre)
	}
	if len(g.Stats) != 3 {
		t.Errorf("expected 3 stats, got %v", g.Stats)
	}
	if g.Models.Narrator.Provider != "ollama" {
		t.Errorf("narrator provider = %q", g.Models.Narrator.Provider)
	}
	if g.Models.Narrator.CreateParams["max_tokens"] != 400 {
		t.Errorf("max_tokens = %v (%T)", g.Models.Narrator.CreateParams["max_tokens"], g.Models.Narrator.CreateParams["max_tokens"])
	}
	if g.Models.Summarizer.Provider != "openai" {
		t.Errorf("summarizer provider = %q", g.Models.Summarizer.Provider)
	}
}

func TestParseGameDefaults(t *testing.T) {
	g, err := ParseGame([]byte(sampleGame))
	if err != nil {
		t.Fatalf("parsing game: %v", err)
	}

	if g.InitialStatValue != 100 {
		t.Errorf("InitialStatValue = %d, want 100", g.InitialStatValue)
	}
	if g.Summarizer.ThresholdTokens != 1500 {
		t.Errorf("ThresholdTokens = %d, want 1500", g.Summarizer.ThresholdTokens)
	}
	if g.Summarizer.MinTurns != 5 {
		t.Errorf("MinTurns = %d, want 5", g.Summarizer.MinTurns)
	}
}

func TestParseGameValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing sanity",
			mutate:  func(s string) string { return strings.Replace(s, "[health, sanity, courage]", "[health, courage]", 1) },
			wantErr: "health and sanity",
		},
		{
			name:    "missing summarizer provider",
			mutate:  func(s string) string { return strings.Replace(s, "provider: openai", "provider: \"\"", 1) },
			wantErr: "models.summarizer.provider",
		},
		{
			name:    "invalid yaml",
			mutate:  func(s string) string { return s + "\nextra: [unterminated" },
			wantErr: "parsing game config",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGame([]byte(tc.mutate(sampleGame)))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadGameFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.yaml")
	if err := os.WriteFile(path, []byte(sampleGame), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	g, err := LoadGame(path)
	if err != nil {
		t.Fatalf("loading game: %v", err)
	}
	if g.StorySize != 250 {
		t.Errorf("StorySize = %d", g.StorySize)
	}

	if _, err := LoadGame(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestModelsRole(t *testing.T) {
	g, _ := ParseGame([]byte(sampleGame))

	if mc, ok := g.Models.Role(RoleSummarizer); !ok || mc.Provider != "openai" {
		t.Errorf("Role(summarizer) = %+v, %v", mc, ok)
	}
	if _, ok := g.Models.Role("critic"); ok {
		t.Error("unknown role should not resolve")
	}
}
