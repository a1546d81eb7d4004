// Package session keeps one narrator engine per slot. Engines are built on
// first use, turns on a slot run one at a time, and idle engines are
// disposed so their state is reloaded from the repository on next use.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mrwolf/adventure-server/internal/models"
	"github.com/mrwolf/adventure-server/internal/narrator"
)

// Factory builds and bootstraps the engine for a slot
type Factory func(ctx context.Context, slot string) (*narrator.Engine, error)

type entry struct {
	mu       sync.Mutex // held for bootstrap and for every turn
	engine   *narrator.Engine
	lastUsed time.Time
}

// Manager is a registry of engines keyed by slot
type Manager struct {
	factory Factory
	clock   clockwork.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the clock used for idle tracking
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the manager logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates an empty registry
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire returns the locked entry for slot, bootstrapping its engine if
// needed. The caller must unlock e.mu.
func (m *Manager) acquire(ctx context.Context, slot string) (*entry, error) {
	for {
		m.mu.Lock()
		e, ok := m.sessions[slot]
		if !ok {
			e = &entry{}
			m.sessions[slot] = e
		}
		m.mu.Unlock()

		e.mu.Lock()

		// reset or evicted while we waited
		m.mu.Lock()
		current := m.sessions[slot] == e
		m.mu.Unlock()
		if !current {
			e.mu.Unlock()
			continue
		}

		if e.engine == nil {
			engine, err := m.factory(ctx, slot)
			if err != nil {
				m.remove(slot, e)
				e.mu.Unlock()
				return nil, err
			}
			e.engine = engine
		}
		e.lastUsed = m.clock.Now()
		return e, nil
	}
}

func (m *Manager) remove(slot string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[slot] == e {
		delete(m.sessions, slot)
	}
}

// Get returns the client view of a slot, bootstrapping it on first use
func (m *Manager) Get(ctx context.Context, slot string) (models.UIState, error) {
	e, err := m.acquire(ctx, slot)
	if err != nil {
		return models.UIState{}, err
	}
	defer e.mu.Unlock()

	return view(e.engine), nil
}

// Turn plays one action on a slot. Turns on the same slot are serialised.
func (m *Manager) Turn(ctx context.Context, slot, input string) (*narrator.TurnResult, error) {
	e, err := m.acquire(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	res, err := e.engine.ProcessTurn(ctx, input)
	e.lastUsed = m.clock.Now()
	return res, err
}

// Reset disposes the engine of a slot. Persisted state is kept, so the next
// use reloads it. Returns false if the slot was not active.
func (m *Manager) Reset(slot string) bool {
	m.mu.Lock()
	e, ok := m.sessions[slot]
	m.mu.Unlock()
	if !ok {
		return false
	}

	// wait for a running turn or bootstrap so its save lands first
	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[slot] != e {
		return false
	}
	delete(m.sessions, slot)
	m.logger.Info("session reset", "slot", slot)
	return true
}

// EvictIdle disposes engines unused for longer than maxIdle and returns how
// many were removed. Busy engines are skipped.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for slot, e := range m.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if e.engine != nil && now.Sub(e.lastUsed) > maxIdle {
			delete(m.sessions, slot)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		m.logger.Info("evicted idle sessions", "count", evicted, "max_idle", maxIdle.String())
	}
	return evicted
}

// Active returns the slots with a live engine, sorted
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make([]string, 0, len(m.sessions))
	for slot := range m.sessions {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}

func view(e *narrator.Engine) models.UIState {
	return models.NewUIState(e.Slot(), e.Turn(), e.Tokens(), e.State())
}
