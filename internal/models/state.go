package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// World state tags the engine itself understands. Providers may emit others.
const (
	WorldBeginning  = "beginning"
	WorldInProgress = "in_progress"
	WorldGameOver   = "game_over"
	WorldVictory    = "victory"
)

// StatHealth and StatSanity drive the terminal rule.
const (
	StatHealth = "health"
	StatSanity = "sanity"
)

// TurnRecord is one exchange between the player and the narrator.
// Turn 0 is the intro beat and has an empty Player.
type TurnRecord struct {
	Turn     int    `json:"turn"`
	Player   string `json:"player"`
	Narrator string `json:"narrator"`

	// unnumbered is set when a persisted record carried no integral turn.
	unnumbered bool
}

// UnmarshalJSON tolerates records written without a usable turn number so
// CurrentTurn can fall back to the record's position.
func (r *TurnRecord) UnmarshalJSON(data []byte) error {
	var aux struct {
		Turn     any    `json:"turn"`
		Player   string `json:"player"`
		Narrator string `json:"narrator"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Player = aux.Player
	r.Narrator = aux.Narrator
	r.Turn = 0
	r.unnumbered = true
	if f, ok := aux.Turn.(float64); ok && f == math.Trunc(f) {
		r.Turn = int(f)
		r.unnumbered = false
	}
	return nil
}

// Numbered reports whether the record carries an explicit turn number.
func (r TurnRecord) Numbered() bool {
	return !r.unnumbered
}

// GameState is the mutable game record for one slot.
type GameState struct {
	WorldState string         `json:"world_state"`
	Stats      map[string]int `json:"stats"`
	Inventory  []any          `json:"inventory"`
	NPCRel     map[string]any `json:"npc_rel"`
	Log        []TurnRecord   `json:"log"`
	HiddenLore string         `json:"hidden_lore,omitempty"`

	// Summary lives in its own repository column, not in the state blob.
	Summary string `json:"-"`
}

// NewGameState returns the state of a slot that has never been played.
func NewGameState(stats []string, initial int) GameState {
	s := GameState{
		WorldState: WorldBeginning,
		Stats:      make(map[string]int, len(stats)),
		Inventory:  []any{},
		NPCRel:     map[string]any{},
		Log:        []TurnRecord{},
	}
	for _, name := range stats {
		s.Stats[name] = initial
	}
	return s
}

// Normalize replaces nil collections so rehydrated state behaves like fresh
// state, and numbers unnumbered log records by their 1-based position.
func (s *GameState) Normalize() {
	if s.Stats == nil {
		s.Stats = map[string]int{}
	}
	if s.Inventory == nil {
		s.Inventory = []any{}
	}
	if s.NPCRel == nil {
		s.NPCRel = map[string]any{}
	}
	if s.Log == nil {
		s.Log = []TurnRecord{}
	}
	// pin inferred numbers so they survive the next save
	for i := range s.Log {
		if !s.Log[i].Numbered() {
			s.Log[i].Turn = i + 1
			s.Log[i].unnumbered = false
		}
	}
}

// ApplyTerminalRule forces game_over when health or sanity dropped below 1.
// It returns true when the rule fired.
func (s *GameState) ApplyTerminalRule() bool {
	if v, ok := s.Stats[StatHealth]; ok && v < 1 {
		s.WorldState = WorldGameOver
		return true
	}
	if v, ok := s.Stats[StatSanity]; ok && v < 1 {
		s.WorldState = WorldGameOver
		return true
	}
	return false
}

// StateSnapshot is the state shown to the narrator: everything but the log.
type StateSnapshot struct {
	WorldState string         `json:"world_state"`
	Stats      map[string]int `json:"stats"`
	Inventory  []any          `json:"inventory"`
	NPCRel     map[string]any `json:"npc_rel"`
	HiddenLore string         `json:"hidden_lore,omitempty"`
}

// Snapshot returns the state without its log.
func (s GameState) Snapshot() StateSnapshot {
	return StateSnapshot{
		WorldState: s.WorldState,
		Stats:      s.Stats,
		Inventory:  s.Inventory,
		NPCRel:     s.NPCRel,
		HiddenLore: s.HiddenLore,
	}
}

// String renders the snapshot as JSON. Map keys are sorted by encoding/json,
// so equal snapshots render identically.
func (s StateSnapshot) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%+v", map[string]any{
			"world_state": s.WorldState,
			"stats":       s.Stats,
		})
	}
	return string(data)
}

// Clone returns a deep copy of the state. Opaque inventory and relation
// values are copied through a JSON round trip.
func (s GameState) Clone() GameState {
	out := s
	out.Stats = make(map[string]int, len(s.Stats))
	for k, v := range s.Stats {
		out.Stats[k] = v
	}
	out.Log = append([]TurnRecord(nil), s.Log...)
	out.Inventory = cloneValue(s.Inventory, []any{})
	out.NPCRel = cloneValue(s.NPCRel, map[string]any{})
	out.Normalize()
	return out
}

func cloneValue[T any](v T, empty T) T {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	out := empty
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// CurrentTurn returns the highest turn number in the log, or 0 when empty.
// Records without a number count as their 1-based position.
func CurrentTurn(log []TurnRecord) int {
	current := 0
	for i, rec := range log {
		n := rec.Turn
		if !rec.Numbered() {
			n = i + 1
		}
		if n > current {
			current = n
		}
	}
	return current
}
