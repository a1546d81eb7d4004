package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider roles
const (
	RoleNarrator      = "narrator"
	RoleLoreGenerator = "lore_generator"
	RoleSummarizer    = "summarizer"
)

// Game is the game configuration document
type Game struct {
	Language         string           `yaml:"language"`
	Genre            string           `yaml:"genre"`
	LoreSeed         string           `yaml:"lore_seed"`
	StorySize        int              `yaml:"story_size"`
	NPCs             int              `yaml:"npcs"`
	Items            int              `yaml:"items"`
	Stats            []string         `yaml:"stats"`
	InitialStatValue int              `yaml:"initial_stat_value"`
	Summarizer       SummarizerConfig `yaml:"summarizer"`
	Models           Models           `yaml:"models"`
}

// SummarizerConfig holds the history compaction thresholds
type SummarizerConfig struct {
	ThresholdTokens int `yaml:"threshold_tokens"`
	MinTurns        int `yaml:"min_turns"`
}

// Models selects a provider per role
type Models struct {
	Narrator      ModelConfig `yaml:"narrator"`
	LoreGenerator ModelConfig `yaml:"lore_generator"`
	Summarizer    ModelConfig `yaml:"summarizer"`
}

// ModelConfig is a provider name plus its construction parameters
type ModelConfig struct {
	Provider     string         `yaml:"provider"`
	CreateParams map[string]any `yaml:"create_params"`
}

// Role returns the model configuration for a role name
func (m Models) Role(role string) (ModelConfig, bool) {
	switch role {
	case RoleNarrator:
		return m.Narrator, true
	case RoleLoreGenerator:
		return m.LoreGenerator, true
	case RoleSummarizer:
		return m.Summarizer, true
	}
	return ModelConfig{}, false
}

// LoadGame reads and validates a game configuration document
func LoadGame(path string) (*Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading game config: %w", err)
	}
	return ParseGame(data)
}

// ParseGame decodes a game configuration document and applies defaults
func ParseGame(data []byte) (*Game, error) {
	var g Game
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing game config: %w", err)
	}
	g.applyDefaults()
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Game) applyDefaults() {
	if g.Language == "" {
		g.Language = "English"
	}
	if g.Genre == "" {
		g.Genre = "mystery"
	}
	if g.LoreSeed == "" {
		g.LoreSeed = "The world holds secrets."
	}
	if g.StorySize == 0 {
		g.StorySize = 300
	}
	if g.InitialStatValue == 0 {
		g.InitialStatValue = 100
	}
	if g.Summarizer.ThresholdTokens == 0 {
		g.Summarizer.ThresholdTokens = 1500
	}
	if g.Summarizer.MinTurns == 0 {
		g.Summarizer.MinTurns = 5
	}
}

func (g *Game) validate() error {
	has := map[string]bool{}
	for _, s := range g.Stats {
		has[s] = true
	}
	if !has["health"] || !has["sanity"] {
		return fmt.Errorf("stats must include health and sanity, got %v", g.Stats)
	}
	for _, role := range []string{RoleNarrator, RoleLoreGenerator, RoleSummarizer} {
		mc, _ := g.Models.Role(role)
		if mc.Provider == "" {
			return fmt.Errorf("models.%s.provider is required", role)
		}
	}
	if g.NPCs < 0 || g.Items < 0 || g.StorySize < 0 {
		return fmt.Errorf("npcs, items and story_size must not be negative")
	}
	return nil
}
