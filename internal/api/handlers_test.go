package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/mrwolf/adventure-server/internal/archive"
	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/db"
	"github.com/mrwolf/adventure-server/internal/llm"
	"github.com/mrwolf/adventure-server/internal/models"
	"github.com/mrwolf/adventure-server/internal/narrator"
	"github.com/mrwolf/adventure-server/internal/scheduler"
	"github.com/mrwolf/adventure-server/internal/session"
)

// scriptedProvider answers by keyword in the player action
type scriptedProvider struct{}

func (scriptedProvider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	switch {
	case strings.Contains(req.User, "Player action: mumble"):
		return &llm.Response{Text: "I am not JSON."}, nil
	case strings.Contains(req.User, "Player action: disconnect"):
		return nil, errors.New("connection refused")
	case strings.Contains(req.User, "Player action: jump"):
		return &llm.Response{Text: `{"text":"You <b>fall</b>. [run](javascript:alert(1))","stats":{"health":0,"sanity":100},"inventory":[],"npc_rel":{},"world_state":"in_progress"}`}, nil
	}
	return &llm.Response{Text: `{"text":"The door creaks open.","stats":{"health":90,"sanity":100},"inventory":["lantern"],"npc_rel":{},"world_state":"in_progress"}`}, nil
}

type memStore struct {
	mu      sync.Mutex
	states  map[string]models.GameState
	pingErr error
}

func (s *memStore) Load(ctx context.Context, slot string) (*models.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[slot]
	if !ok {
		return nil, nil
	}
	c := st.Clone()
	return &c, nil
}

func (s *memStore) Save(ctx context.Context, slot string, state models.GameState, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := state.Clone()
	c.Summary = summary
	s.states[slot] = c
	return nil
}

func (s *memStore) Slots(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var slots []string
	for slot := range s.states {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots, nil
}

func (s *memStore) Delete(ctx context.Context, slot string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[slot]
	delete(s.states, slot)
	return ok, nil
}

func (s *memStore) Ping(ctx context.Context) error {
	return s.pingErr
}

type staticJobs map[string]*db.JobRun

func (j staticJobs) LastJobRun(ctx context.Context, jobType string) (*db.JobRun, error) {
	return j[jobType], nil
}

type staticHealth map[string]string

func (h staticHealth) Status() map[string]string { return h }

type testServer struct {
	*httptest.Server
	store *memStore
}

func setupTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	store := &memStore{states: map[string]models.GameState{}}
	arch := archive.New(t.TempDir())
	game := &config.Game{
		Language:         "English",
		Genre:            "gothic horror",
		LoreSeed:         "The abbey hides a drowned saint.",
		Stats:            []string{"health", "sanity"},
		InitialStatValue: 100,
	}

	manager := session.NewManager(func(ctx context.Context, slot string) (*narrator.Engine, error) {
		return narrator.New(ctx, narrator.Options{
			Slot:       slot,
			Game:       game,
			Narrator:   scriptedProvider{},
			Repository: store,
			Archive:    arch,
		})
	})

	router := NewRouter(Deps{
		Config:      cfg,
		Sessions:    manager,
		Store:       store,
		Transcripts: arch,
		Health:      staticHealth{"narrator": "ok"},
		Jobs: staticJobs{
			scheduler.JobHealthCheck: {
				Status:       "failed",
				StartedAt:    "2026-10-18T09:00:00.000000Z",
				CompletedAt:  sql.NullString{String: "2026-10-18T09:00:01.000000Z", Valid: true},
				ErrorMessage: sql.NullString{String: "narrator: connection refused", Valid: true},
			},
		},
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, store: store}
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	resp, body := doJSON(t, http.MethodGet, server.URL+"/health", "", nil)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %v", body["version"])
	}
	providers, _ := body["providers"].(map[string]any)
	if providers["narrator"] != "ok" {
		t.Errorf("providers = %v", body["providers"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestHealthReportsJobHistory(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	_, body := doJSON(t, http.MethodGet, server.URL+"/health", "", nil)

	jobs, _ := body["jobs"].(map[string]any)
	check, _ := jobs[scheduler.JobHealthCheck].(map[string]any)
	if check["status"] != "failed" || check["error"] != "narrator: connection refused" {
		t.Errorf("health-check job = %v", jobs[scheduler.JobHealthCheck])
	}
	if _, ok := jobs[scheduler.JobEvictIdle]; ok {
		t.Error("a job that never ran should not be reported")
	}
}

func TestHealthReportsDatabaseError(t *testing.T) {
	server := setupTestServer(t, &config.Config{})
	server.store.pingErr = errors.New("database is locked")

	_, body := doJSON(t, http.MethodGet, server.URL+"/health", "", nil)

	if body["status"] != "degraded" {
		t.Errorf("status = %v", body["status"])
	}
	if !strings.Contains(body["database"].(string), "database is locked") {
		t.Errorf("database = %v", body["database"])
	}
}

func TestSessionsRequireAuth(t *testing.T) {
	server := setupTestServer(t, &config.Config{APIToken: "test_token"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic test_token", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer test_token", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/sessions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("GET /sessions: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestCreateSessionAndPlay(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %v", resp.StatusCode, body)
	}
	slot, _ := body["slot"].(string)
	if slot == "" {
		t.Fatal("expected a slot id")
	}
	state, _ := body["state"].(map[string]any)
	if state["turn"] != float64(0) {
		t.Errorf("new session turn = %v", state["turn"])
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/"+slot+"/turns", "", map[string]string{"input": "open the door"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %v", resp.StatusCode, body)
	}
	if body["turn"] != float64(1) || body["narration"] != "The door creaks open." {
		t.Errorf("turn response = %v", body)
	}

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/"+slot, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if body["world_state"] != "in_progress" {
		t.Errorf("world_state = %v", body["world_state"])
	}
	if log, _ := body["log"].([]any); len(log) != 2 {
		t.Errorf("log = %v", body["log"])
	}

	_, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions", "", nil)
	persisted, _ := body["persisted"].([]any)
	active, _ := body["active"].([]any)
	if len(persisted) != 1 || len(active) != 1 {
		t.Errorf("sessions = %v", body)
	}
}

func TestPlayTurnErrorMapping(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	tests := []struct {
		name      string
		input     string
		status    int
		code      string
		retryable bool
	}{
		{"blank input", "   ", http.StatusBadRequest, "INVALID_INPUT", true},
		{"unparseable narration", "mumble", http.StatusBadGateway, "NARRATOR_PARSE", true},
		{"provider down", "disconnect", http.StatusBadGateway, "PROVIDER_ERROR", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/errors/turns", "", map[string]string{"input": tc.input})
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if body["code"] != tc.code {
				t.Errorf("code = %v, want %s", body["code"], tc.code)
			}
			if got, _ := body["retryable"].(bool); got != tc.retryable {
				t.Errorf("retryable = %v", body["retryable"])
			}
		})
	}

	// none of the failures were committed
	if log := server.store.states["errors"].Log; len(log) != 1 {
		t.Errorf("persisted log has %d entries, want only the intro", len(log))
	}
}

func TestPlayTurnRejectsBadRequests(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	resp, err := http.Post(server.URL+"/api/v1/sessions/alpha/turns", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST turns: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid body status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/bad.slot", "", nil)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_SLOT" {
		t.Errorf("invalid slot: %d %v", resp.StatusCode, body)
	}
}

func TestGameOverIsForced(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/cliff/turns", "", map[string]string{"input": "jump"})
	state, _ := body["state"].(map[string]any)
	if state["world_state"] != models.WorldGameOver {
		t.Errorf("world_state = %v, want game_over", state["world_state"])
	}
}

func TestResetSession(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/alpha/turns", "", map[string]string{"input": "look"})

	_, body := doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/alpha/reset", "", nil)
	if body["reset"] != true {
		t.Errorf("reset = %v", body)
	}

	_, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/alpha", "", nil)
	if body["turn"] != float64(1) {
		t.Errorf("reloaded turn = %v, want 1", body["turn"])
	}
}

func TestDeleteSession(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/alpha/turns", "", map[string]string{"input": "look"})

	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/alpha", "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if st, _ := server.store.Load(context.Background(), "alpha"); st != nil {
		t.Error("saved state should be gone")
	}

	_, body := doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions", "", nil)
	if active, _ := body["active"].([]any); len(active) != 0 {
		t.Errorf("active = %v, want none", active)
	}

	resp, body = doJSON(t, http.MethodDelete, server.URL+"/api/v1/sessions/alpha", "", nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("second delete = %d %v", resp.StatusCode, body)
	}

	// the slot starts over with a fresh intro
	_, body = doJSON(t, http.MethodGet, server.URL+"/api/v1/sessions/alpha", "", nil)
	if body["turn"] != float64(0) {
		t.Errorf("turn after delete = %v, want 0", body["turn"])
	}
}

func TestTranscript(t *testing.T) {
	server := setupTestServer(t, &config.Config{})

	doJSON(t, http.MethodPost, server.URL+"/api/v1/sessions/cliff/turns", "", map[string]string{"input": "jump"})

	resp, err := http.Get(server.URL + "/api/v1/sessions/cliff/transcript")
	if err != nil {
		t.Fatalf("GET transcript: %v", err)
	}
	defer resp.Body.Close()
	html, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, html)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("content type = %s", resp.Header.Get("Content-Type"))
	}

	page := string(html)
	for _, want := range []string{"<h1>cliff</h1>", "<h2>Turn 1</h2>", "<strong>game over</strong>"} {
		if !strings.Contains(page, want) {
			t.Errorf("transcript missing %q:\n%s", want, page)
		}
	}
	if strings.Contains(page, "javascript:") {
		t.Errorf("unsafe link survived:\n%s", page)
	}
	if strings.Contains(page, "<b>fall</b>") {
		t.Errorf("raw HTML should not be rendered:\n%s", page)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 60e9)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Error("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Error("limits are per key")
	}
}
