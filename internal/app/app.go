// Package app wires configuration, providers, storage and the session
// registry together for both binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mrwolf/adventure-server/internal/archive"
	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/db"
	"github.com/mrwolf/adventure-server/internal/llm"
	"github.com/mrwolf/adventure-server/internal/narrator"
	"github.com/mrwolf/adventure-server/internal/session"
)

// Roles are the provider roles in construction order
var Roles = []string{config.RoleNarrator, config.RoleLoreGenerator, config.RoleSummarizer}

type App struct {
	Config    *config.Config
	Game      *config.Game
	DB        *db.DB
	Archive   *archive.Archive // nil when ADVENTURE_ARCHIVE_PATH is unset
	Providers map[string]llm.Provider
	Sessions  *session.Manager
	Logger    *slog.Logger
}

// New loads the game document and builds everything a binary needs
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	game, err := config.LoadGame(cfg.GameConfig)
	if err != nil {
		return nil, err
	}

	registry := llm.DefaultRegistry()
	if err := registry.SelfCheck(llm.ShippedProviders()...); err != nil {
		return nil, err
	}

	providers, err := BuildProviders(registry, game, cfg.Provider)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		closeProviders(providers)
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &App{
		Config:    cfg,
		Game:      game,
		DB:        database,
		Providers: providers,
		Logger:    logger,
	}
	if cfg.ArchivePath != "" {
		a.Archive = archive.New(cfg.ArchivePath)
	}

	summarizer := narrator.NewSummarizer(providers[config.RoleSummarizer],
		narrator.WithThreshold(game.Summarizer.ThresholdTokens),
		narrator.WithMinTurns(game.Summarizer.MinTurns),
		narrator.WithLogger(logger),
	)
	a.Sessions = session.NewManager(a.factory(summarizer), session.WithLogger(logger))

	logger.Info("app ready",
		"narrator", game.Models.Narrator.Provider,
		"genre", game.Genre,
		"numbering", cfg.TurnNumbering,
		"archive", a.Archive != nil,
	)
	return a, nil
}

// BuildProviders constructs one provider per role. A non-empty override
// replaces the narrator's configured provider name.
func BuildProviders(registry *llm.Registry, game *config.Game, override string) (map[string]llm.Provider, error) {
	providers := make(map[string]llm.Provider, len(Roles))
	for _, role := range Roles {
		mc, _ := game.Models.Role(role)
		name := mc.Provider
		if role == config.RoleNarrator && override != "" {
			name = override
		}
		p, err := registry.New(name, llm.Params(mc.CreateParams))
		if err != nil {
			closeProviders(providers)
			return nil, fmt.Errorf("building %s provider: %w", role, err)
		}
		providers[role] = p
	}
	return providers, nil
}

func (a *App) factory(summarizer *narrator.Summarizer) session.Factory {
	return func(ctx context.Context, slot string) (*narrator.Engine, error) {
		opts := narrator.Options{
			Slot:          slot,
			Game:          a.Game,
			Narrator:      a.Providers[config.RoleNarrator],
			LoreGenerator: a.Providers[config.RoleLoreGenerator],
			Summarizer:    summarizer,
			Repository:    a.DB,
			Numbering:     a.Config.TurnNumbering,
			Logger:        a.Logger,
		}
		// a typed nil would defeat the engine's nil check
		if a.Archive != nil {
			opts.Archive = a.Archive
		}
		return narrator.New(ctx, opts)
	}
}

// Close releases providers holding clients and closes the database
func (a *App) Close() error {
	return errors.Join(closeProviders(a.Providers), a.DB.Close())
}

func closeProviders(providers map[string]llm.Provider) error {
	var errs []error
	for role, p := range providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s provider: %w", role, err))
			}
		}
	}
	return errors.Join(errs...)
}
