// Package archive keeps an append-only JSONL record of every committed turn
// per slot, so history compacted away by summarization stays readable.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mrwolf/adventure-server/internal/models"
)

var cleanSlotRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ErrInvalidSlot is returned for slot names with no usable characters
var ErrInvalidSlot = errors.New("invalid slot name")

// Archive writes turn logs under basePath/<slot>/turns.jsonl
type Archive struct {
	basePath string
	clock    clockwork.Clock
	mu       sync.Mutex
}

// Option configures an Archive
type Option func(*Archive)

// WithClock sets the clock used for entry timestamps
func WithClock(c clockwork.Clock) Option {
	return func(a *Archive) {
		a.clock = c
	}
}

// New creates an archive rooted at basePath
func New(basePath string, opts ...Option) *Archive {
	a := &Archive{basePath: basePath, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CleanSlot strips everything but letters, digits, dash and underscore
func CleanSlot(slot string) string {
	return cleanSlotRe.ReplaceAllString(slot, "")
}

func (a *Archive) path(slot string) (string, error) {
	clean := CleanSlot(slot)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return filepath.Join(a.basePath, clean, "turns.jsonl"), nil
}

// RecordTurn appends a committed turn to the slot's log
func (a *Archive) RecordTurn(slot string, rec models.TurnRecord, worldState string) error {
	path, err := a.path(slot)
	if err != nil {
		return err
	}

	line, err := json.Marshal(models.ArchivedTurn{
		TS:         a.clock.Now().UTC().Format(time.RFC3339),
		Slot:       slot,
		Turn:       rec.Turn,
		Player:     rec.Player,
		Narrator:   rec.Narrator,
		WorldState: worldState,
	})
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := AppendLine(path, line); err != nil {
		return fmt.Errorf("appending turn log: %w", err)
	}
	return nil
}

// Turns returns every archived turn of a slot in write order. A slot that
// was never archived has no turns.
func (a *Archive) Turns(slot string) ([]models.ArchivedTurn, error) {
	path, err := a.path(slot)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening turn log: %w", err)
	}
	defer f.Close()

	var turns []models.ArchivedTurn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t models.ArchivedTurn
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		turns = append(turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading turn log: %w", err)
	}
	return turns, nil
}

// Markdown renders archived turns as a Markdown transcript
func Markdown(slot string, turns []models.ArchivedTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", slot)
	if len(turns) == 0 {
		b.WriteString("_Nothing has happened yet._\n")
		return b.String()
	}
	for _, t := range turns {
		if t.Turn == 0 && t.Player == "" {
			b.WriteString("## Prologue\n\n")
		} else {
			fmt.Fprintf(&b, "## Turn %d\n\n", t.Turn)
			fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(t.Player, "\n", " "))
		}
		b.WriteString(t.Narrator)
		b.WriteString("\n\n")
		if t.WorldState == models.WorldGameOver || t.WorldState == models.WorldVictory {
			fmt.Fprintf(&b, "**%s**\n\n", strings.ReplaceAll(t.WorldState, "_", " "))
		}
	}
	return b.String()
}
