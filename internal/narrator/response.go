package narrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mrwolf/adventure-server/internal/models"
)

// Reply is a validated narrator response. Every field is required.
type Reply struct {
	Text       string
	Stats      map[string]int
	Inventory  []any
	NPCRel     map[string]any
	WorldState string
}

var replyKeys = []string{"text", "stats", "inventory", "npc_rel", "world_state"}

// ParseReply validates narrator output against the reply contract: a single
// JSON object with exactly the keys text, stats, inventory, npc_rel and
// world_state, each of the right type. stats must report health, sanity and
// every name in required. Anything else is a *ParseError.
func ParseReply(raw string, required ...string) (*Reply, error) {
	reply, err := parseReply(strings.TrimSpace(raw))
	if err == nil {
		err = checkStats(reply.Stats, required)
	}
	if err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return reply, nil
}

func parseReply(raw string) (*Reply, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON object")
	}
	if fields == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}

	var missing, unknown []string
	for _, key := range replyKeys {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	for key := range fields {
		if !isReplyKey(key) {
			unknown = append(unknown, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unexpected keys: %s", strings.Join(unknown, ", "))
	}

	reply := &Reply{}

	if err := decodeKind(fields["text"], '"', &reply.Text); err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	if err := decodeKind(fields["world_state"], '"', &reply.WorldState); err != nil {
		return nil, fmt.Errorf("world_state: %w", err)
	}
	if strings.TrimSpace(reply.WorldState) == "" {
		return nil, fmt.Errorf("world_state: must not be empty")
	}
	if err := decodeKind(fields["inventory"], '[', &reply.Inventory); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	if err := decodeKind(fields["npc_rel"], '{', &reply.NPCRel); err != nil {
		return nil, fmt.Errorf("npc_rel: %w", err)
	}

	stats, err := decodeStats(fields["stats"])
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	reply.Stats = stats

	return reply, nil
}

// checkStats rejects replies that drop a tracked stat, since the terminal
// rule can only fire on stats that are present.
func checkStats(stats map[string]int, required []string) error {
	var missing []string
	seen := map[string]bool{}
	for _, name := range append([]string{models.StatHealth, models.StatSanity}, required...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := stats[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("stats: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func isReplyKey(key string) bool {
	for _, k := range replyKeys {
		if k == key {
			return true
		}
	}
	return false
}

var kindNames = map[byte]string{'"': "string", '[': "array", '{': "object"}

// decodeKind decodes raw into v after checking the JSON value starts with
// the expected delimiter, so null and mismatched types are rejected.
func decodeKind(raw json.RawMessage, kind byte, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != kind {
		return fmt.Errorf("expected %s, got %s", kindNames[kind], truncate(string(raw), 40))
	}
	return json.Unmarshal(raw, v)
}

// decodeStats accepts an object of JSON numbers. Fractional values are
// floored so a stat of 0.5 counts as below 1.
func decodeStats(raw json.RawMessage) (map[string]int, error) {
	var values map[string]json.RawMessage
	if err := decodeKind(raw, '{', &values); err != nil {
		return nil, err
	}

	stats := make(map[string]int, len(values))
	for name, v := range values {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || !(v[0] == '-' || (v[0] >= '0' && v[0] <= '9')) {
			return nil, fmt.Errorf("%s: expected number, got %s", name, truncate(string(v), 40))
		}
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
			return nil, fmt.Errorf("%s: invalid number %s", name, string(v))
		}
		stats[name] = int(math.Floor(f))
	}
	return stats, nil
}

// Apply copies the reply onto the state and enforces the terminal rule
func (r *Reply) Apply(s *models.GameState) {
	s.Stats = r.Stats
	s.Inventory = r.Inventory
	s.NPCRel = r.NPCRel
	s.WorldState = r.WorldState
	s.ApplyTerminalRule()
}

// truncate limits string length for error messages
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
