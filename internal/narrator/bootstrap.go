package narrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/llm"
	"github.com/mrwolf/adventure-server/internal/models"
)

// DefaultIntro is shown when the narrator cannot be reached for the opening
const DefaultIntro = "An uneasy hush hangs in the air."

// New loads the slot and brings it to the ready phase: hidden lore is
// generated when missing and the intro is narrated when the log is empty.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Game == nil {
		return nil, errors.New("game config is required")
	}
	if opts.Narrator == nil {
		return nil, &ConfigurationError{Provider: config.RoleNarrator, Reason: "no provider configured"}
	}
	if opts.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if opts.Slot == "" {
		opts.Slot = "default"
	}
	if opts.Numbering == "" {
		opts.Numbering = config.NumberAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		slot:       opts.Slot,
		game:       opts.Game,
		narrator:   opts.Narrator,
		lore:       opts.LoreGenerator,
		summarizer: opts.Summarizer,
		repo:       opts.Repository,
		archive:    opts.Archive,
		numbering:  opts.Numbering,
		logger:     logger.With("slot", opts.Slot),
		phase:      PhaseUninitialized,
	}
	if e.summarizer != nil {
		// fallback warnings carry the slot
		e.summarizer = e.summarizer.scoped(e.logger)
	}

	loaded, err := e.repo.Load(ctx, e.slot)
	if err != nil {
		return nil, fmt.Errorf("loading slot %q: %w", e.slot, err)
	}
	if loaded != nil {
		e.state = *loaded
		e.state.Normalize()
	} else {
		e.state = models.NewGameState(e.game.Stats, e.game.InitialStatValue)
	}

	e.phase = PhaseLore
	e.bootstrapLore(ctx)

	e.phase = PhaseIntro
	if err := e.bootstrapIntro(ctx); err != nil {
		return nil, err
	}

	e.turn = models.CurrentTurn(e.state.Log)
	e.phase = PhaseReady

	e.logger.Info("session ready",
		"turn", e.turn,
		"world_state", e.state.WorldState,
		"entries", len(e.state.Log),
	)
	return e, nil
}

// bootstrapLore fills in hidden lore. Generation problems fall back to the
// seed and never fail the bootstrap.
func (e *Engine) bootstrapLore(ctx context.Context) {
	if e.state.HiddenLore != "" {
		return
	}

	e.state.HiddenLore = e.generateLore(ctx)

	if err := e.repo.Save(ctx, e.slot, e.state, e.state.Summary); err != nil {
		e.logger.Warn("persisting hidden lore failed", "error", err)
	}
}

func (e *Engine) generateLore(ctx context.Context) string {
	seed := e.game.LoreSeed
	if e.lore == nil {
		return seed
	}

	system, user := BuildLorePrompt(e.game)
	resp, err := e.lore.Generate(ctx, llm.Request{System: system, User: user})
	if err == nil {
		if text := strings.TrimSpace(resp.Text); text != "" {
			e.tokens += usageOrEstimate(resp, system, user, text)
			return text
		}
		err = errEmptyReply
	}
	e.logger.Warn("lore generation failed, using seed",
		"role", config.RoleLoreGenerator,
		"error", err,
	)
	return seed
}

// bootstrapIntro narrates turn 0 for a slot that has no history. A transport
// failure degrades to DefaultIntro; a malformed reply is fatal.
func (e *Engine) bootstrapIntro(ctx context.Context) error {
	if len(e.state.Log) > 0 {
		return nil
	}

	system := BuildSystemPrompt(e.game, e.state.HiddenLore)
	user := BuildIntroPrompt(e.game, e.state.Snapshot(), e.state.HiddenLore)

	var text string
	resp, err := e.narrator.Generate(ctx, llm.Request{System: system, User: user})
	if err != nil {
		e.logger.Warn("intro narration failed, using default intro",
			"role", config.RoleNarrator,
			"error", err,
		)
		text = DefaultIntro
		e.tokens += llm.EstimateTokens(system, user, text)
	} else {
		reply, err := ParseReply(resp.Text, e.game.Stats...)
		if err != nil {
			return err
		}
		reply.Apply(&e.state)
		text = reply.Text
		e.tokens += usageOrEstimate(resp, system, user, text)
	}

	rec := models.TurnRecord{Turn: 0, Player: "", Narrator: text}
	e.state.Log = append(e.state.Log, rec)

	if err := e.repo.Save(ctx, e.slot, e.state, e.state.Summary); err != nil {
		return fmt.Errorf("saving intro: %w", err)
	}
	e.record(rec)
	return nil
}

// usageOrEstimate prefers reported usage and otherwise estimates from the
// prompts and the narration text, not the raw reply envelope
func usageOrEstimate(resp *llm.Response, system, user, text string) int {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}
	return llm.EstimateTokens(system, user, text)
}
