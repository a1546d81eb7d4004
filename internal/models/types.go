package models

// TurnRequest is sent by a client to play one turn
type TurnRequest struct {
	Input string `json:"input"`
}

// TurnResponse is returned after a turn has been committed
type TurnResponse struct {
	Slot       string    `json:"slot"`
	Turn       int       `json:"turn"`
	Narration  string    `json:"narration"`
	State      GameState `json:"state"`
	Tokens     int       `json:"tokens"`
	Summary    string    `json:"summary,omitempty"`
	Summarized bool      `json:"summarized"`
}

// UIState is everything a client needs to render a session
type UIState struct {
	Slot       string         `json:"slot"`
	Turn       int            `json:"turn"`
	Narration  string         `json:"narration"`
	WorldState string         `json:"world_state"`
	Stats      map[string]int `json:"stats"`
	Inventory  []any          `json:"inventory"`
	NPCRel     map[string]any `json:"npc_rel"`
	Log        []TurnRecord   `json:"log"`
	Summary    string         `json:"summary,omitempty"`
	Tokens     int            `json:"tokens"`
}

// NewUIState builds the client view of a session
func NewUIState(slot string, turn, tokens int, s GameState) UIState {
	ui := UIState{
		Slot:       slot,
		Turn:       turn,
		WorldState: s.WorldState,
		Stats:      s.Stats,
		Inventory:  s.Inventory,
		NPCRel:     s.NPCRel,
		Log:        s.Log,
		Summary:    s.Summary,
		Tokens:     tokens,
	}
	if n := len(s.Log); n > 0 {
		ui.Narration = s.Log[n-1].Narrator
	}
	return ui
}

// SessionsResponse is returned by the session listing endpoint
type SessionsResponse struct {
	Persisted []string `json:"persisted"`
	Active    []string `json:"active"`
}

// CreateSessionResponse is returned when a new slot is started
type CreateSessionResponse struct {
	Slot  string  `json:"slot"`
	State UIState `json:"state"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string               `json:"status"`
	Providers map[string]string    `json:"providers"`
	Database  string               `json:"database"`
	Jobs      map[string]JobStatus `json:"jobs,omitempty"`
	Version   string               `json:"version"`
}

// JobStatus is the last recorded run of a background job
type JobStatus struct {
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ArchivedTurn is one committed turn in the append-only archive
type ArchivedTurn struct {
	TS         string `json:"ts"`
	Slot       string `json:"slot"`
	Turn       int    `json:"turn"`
	Player     string `json:"player"`
	Narrator   string `json:"narrator"`
	WorldState string `json:"world_state"`
}

// ResetResponse is returned when a slot's engine is disposed
type ResetResponse struct {
	Slot  string `json:"slot"`
	Reset bool   `json:"reset"`
}
