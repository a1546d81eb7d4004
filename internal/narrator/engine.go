// Package narrator runs the turn loop of a text adventure: it builds prompts
// from the game state, calls the narration provider, validates the reply and
// commits it as a state transition.
package narrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/llm"
	"github.com/mrwolf/adventure-server/internal/models"
)

// Repository persists game state per slot
type Repository interface {
	Load(ctx context.Context, slot string) (*models.GameState, error)
	Save(ctx context.Context, slot string, state models.GameState, summary string) error
}

// Archiver keeps a durable record of committed turns
type Archiver interface {
	RecordTurn(slot string, rec models.TurnRecord, worldState string) error
}

// Phase is the bootstrap progress of an engine
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLore
	PhaseIntro
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLore:
		return "bootstrapping_lore"
	case PhaseIntro:
		return "bootstrapping_intro"
	case PhaseReady:
		return "ready"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Options configures an engine
type Options struct {
	Slot          string
	Game          *config.Game
	Narrator      llm.Provider
	LoreGenerator llm.Provider // optional, the seed is used when nil
	Summarizer    *Summarizer  // optional, history is never compacted when nil
	Repository    Repository
	Archive       Archiver // optional
	Numbering     string   // config.NumberAttempts (default) or config.NumberCommitted
	Logger        *slog.Logger
}

// TurnResult is the outcome of a committed turn
type TurnResult struct {
	Turn       int
	Narration  string
	State      models.GameState
	Tokens     int
	Summary    string
	Summarized bool
}

// Engine owns the state of one slot. It is not safe for concurrent use;
// callers serialise turns per slot.
type Engine struct {
	slot       string
	game       *config.Game
	narrator   llm.Provider
	lore       llm.Provider
	summarizer *Summarizer
	repo       Repository
	archive    Archiver
	numbering  string
	logger     *slog.Logger

	phase  Phase
	state  models.GameState
	turn   int
	tokens int
}

// ProcessTurn plays one player action. Nothing is committed unless the
// narrator reply parses and the new state is saved.
func (e *Engine) ProcessTurn(ctx context.Context, input string) (*TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &ValidationError{Reason: "input must not be empty"}
	}

	turn := e.turn + 1
	if e.numbering != config.NumberCommitted {
		e.turn = turn
	}

	system := BuildSystemPrompt(e.game, e.state.HiddenLore)
	user := BuildUserPrompt(input, e.state.Snapshot(), e.state.Log, e.state.Summary)

	resp, err := e.narrator.Generate(ctx, llm.Request{System: system, User: user})
	if err != nil {
		return nil, &ProviderError{Provider: config.RoleNarrator, Err: err}
	}

	reply, err := ParseReply(resp.Text, e.game.Stats...)
	if err != nil {
		e.logger.Warn("narrator reply rejected",
			"turn", turn,
			"error", err,
		)
		return nil, err
	}

	before := e.state.Clone()

	reply.Apply(&e.state)

	e.tokens += usageOrEstimate(resp, system, user, reply.Text)

	rec := models.TurnRecord{Turn: turn, Player: input, Narrator: reply.Text}
	e.state.Log = append(e.state.Log, rec)

	summarized := false
	if e.summarizer != nil && e.summarizer.ShouldSummarize(e.tokens, len(e.state.Log)) {
		e.state.Summary = e.summarizer.Summarize(ctx, e.state.Log, e.state.Summary)
		e.state.Log = keepLast(e.state.Log, 2)
		summarized = true
	}

	if err := e.repo.Save(ctx, e.slot, e.state, e.state.Summary); err != nil {
		e.state = before
		return nil, fmt.Errorf("saving turn %d: %w", turn, err)
	}
	e.turn = turn

	e.record(rec)

	e.logger.Debug("turn committed",
		"turn", turn,
		"tokens", e.tokens,
		"world_state", e.state.WorldState,
		"summarized", summarized,
	)

	return &TurnResult{
		Turn:       turn,
		Narration:  reply.Text,
		State:      e.state.Clone(),
		Tokens:     e.tokens,
		Summary:    e.state.Summary,
		Summarized: summarized,
	}, nil
}

// record archives a committed turn; failures only cost the archive entry
func (e *Engine) record(rec models.TurnRecord) {
	if e.archive == nil {
		return
	}
	if err := e.archive.RecordTurn(e.slot, rec, e.state.WorldState); err != nil {
		e.logger.Warn("archiving turn failed",
			"turn", rec.Turn,
			"error", err,
		)
	}
}

// keepLast returns a copy of the last n records
func keepLast(log []models.TurnRecord, n int) []models.TurnRecord {
	if len(log) > n {
		log = log[len(log)-n:]
	}
	return append([]models.TurnRecord(nil), log...)
}

// State returns a copy of the current game state
func (e *Engine) State() models.GameState {
	return e.state.Clone()
}

// Summary returns the current recap, empty when history was never compacted
func (e *Engine) Summary() string {
	return e.state.Summary
}

// Tokens returns the tokens consumed since the engine was created
func (e *Engine) Tokens() int {
	return e.tokens
}

// Turn returns the turn counter
func (e *Engine) Turn() int {
	return e.turn
}

// Slot returns the slot the engine plays
func (e *Engine) Slot() string {
	return e.slot
}

// Phase returns the bootstrap progress
func (e *Engine) Phase() Phase {
	return e.phase
}
