package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/mrwolf/adventure-server/internal/archive"
	"github.com/mrwolf/adventure-server/internal/models"
	"github.com/mrwolf/adventure-server/internal/narrator"
	"github.com/mrwolf/adventure-server/internal/scheduler"
)

const Version = "1.0.0"

// maxInputBytes bounds a turn request body
const maxInputBytes = 16 << 10

var validSlotRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// unsafeHrefRe matches href/src attributes with dangerous URL schemes in goldmark output.
var unsafeHrefRe = regexp.MustCompile(`(?i)(href|src)="(?:javascript|vbscript|data):[^"]*"`)

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, status, message, code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps engine errors onto HTTP responses
func errorStatus(err error) (int, ErrorResponse) {
	var (
		verr *narrator.ValidationError
		perr *narrator.ParseError
		cerr *narrator.ConfigurationError
		prov *narrator.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Code: "INVALID_INPUT", Retryable: true}
	case errors.As(err, &perr):
		return http.StatusBadGateway, ErrorResponse{Error: "the narrator lost the thread, please try again", Code: "NARRATOR_PARSE", Retryable: true}
	case errors.As(err, &cerr):
		return http.StatusInternalServerError, ErrorResponse{Error: cerr.Error(), Code: "CONFIGURATION"}
	case errors.As(err, &prov):
		return http.StatusBadGateway, ErrorResponse{Error: prov.Error(), Code: "PROVIDER_ERROR", Retryable: true}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "narration timed out", Code: "TIMEOUT", Retryable: true}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"}
}

type Handlers struct {
	sessions    Sessions
	store       Store
	transcripts Transcripts
	health      HealthReporter
	jobs        JobHistory
	logger      *slog.Logger
	md          goldmark.Markdown
}

func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sessions:    d.Sessions,
		store:       d.Store,
		transcripts: d.Transcripts,
		health:      d.Health,
		jobs:        d.Jobs,
		logger:      logger,
		md: goldmark.New(
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, slot string, err error) {
	status, resp := errorStatus(err)
	if status >= 500 {
		h.logger.Error("request failed",
			"slot", slot,
			"request_id", GetRequestID(r),
			"error", err,
		)
	}
	writeJSON(w, status, resp)
}

// slotParam returns the slot URL parameter, writing a 400 if it is unusable
func slotParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	slot := chi.URLParam(r, "slot")
	if !validSlotRe.MatchString(slot) {
		writeJSONError(w, http.StatusBadRequest, "slot must be 1-64 letters, digits, dashes or underscores", "INVALID_SLOT")
		return "", false
	}
	return slot, true
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:    "ok",
		Providers: map[string]string{},
		Database:  "connected",
		Version:   Version,
	}

	if h.health != nil {
		resp.Providers = h.health.Status()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "error: " + err.Error()
	}

	if h.jobs != nil {
		resp.Jobs = h.jobStatus(ctx)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, resp)
}

// jobStatus reports the last run of each scheduled job that has run
func (h *Handlers) jobStatus(ctx context.Context) map[string]models.JobStatus {
	jobs := map[string]models.JobStatus{}
	for _, name := range scheduler.JobNames {
		run, err := h.jobs.LastJobRun(ctx, name)
		if err != nil {
			h.logger.Warn("reading job history", "job", name, "error", err)
			continue
		}
		if run == nil {
			continue
		}
		jobs[name] = models.JobStatus{
			Status:      run.Status,
			StartedAt:   run.StartedAt,
			CompletedAt: run.CompletedAt.String,
			Error:       run.ErrorMessage.String,
		}
	}
	return jobs
}

// CreateSession handles POST /sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	slot := uuid.NewString()

	ui, err := h.sessions.Get(r.Context(), slot)
	if err != nil {
		h.fail(w, r, slot, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateSessionResponse{Slot: slot, State: ui})
}

// ListSessions handles GET /sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	slots, err := h.store.Slots(r.Context())
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	if slots == nil {
		slots = []string{}
	}

	writeJSON(w, http.StatusOK, models.SessionsResponse{
		Persisted: slots,
		Active:    h.sessions.Active(),
	})
}

// GetSession handles GET /sessions/{slot}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	ui, err := h.sessions.Get(r.Context(), slot)
	if err != nil {
		h.fail(w, r, slot, err)
		return
	}

	writeJSON(w, http.StatusOK, ui)
}

// PlayTurn handles POST /sessions/{slot}/turns
func (h *Handlers) PlayTurn(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	var req models.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInputBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	res, err := h.sessions.Turn(r.Context(), slot, req.Input)
	if err != nil {
		h.fail(w, r, slot, err)
		return
	}

	writeJSON(w, http.StatusOK, models.TurnResponse{
		Slot:       slot,
		Turn:       res.Turn,
		Narration:  res.Narration,
		State:      res.State,
		Tokens:     res.Tokens,
		Summary:    res.Summary,
		Summarized: res.Summarized,
	})
}

// ResetSession handles POST /sessions/{slot}/reset
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, models.ResetResponse{Slot: slot, Reset: h.sessions.Reset(slot)})
}

// DeleteSession handles DELETE /sessions/{slot}. The engine is disposed and
// the saved state removed; the turn archive is kept.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	h.sessions.Reset(slot)
	deleted, err := h.store.Delete(r.Context(), slot)
	if err != nil {
		h.fail(w, r, slot, err)
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "no saved session for slot", "NOT_FOUND")
		return
	}

	h.logger.Info("session deleted", "slot", slot, "request_id", GetRequestID(r))
	w.WriteHeader(http.StatusNoContent)
}

// Transcript handles GET /sessions/{slot}/transcript
func (h *Handlers) Transcript(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	if h.transcripts == nil {
		writeJSONError(w, http.StatusNotFound, "turn archive is not enabled", "NO_ARCHIVE")
		return
	}

	turns, err := h.transcripts.Turns(slot)
	if err != nil {
		h.logger.Error("reading transcript", "slot", slot, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "could not read transcript", "INTERNAL")
		return
	}

	var buf bytes.Buffer
	if err := h.md.Convert([]byte(archive.Markdown(slot, turns)), &buf); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "could not render transcript", "INTERNAL")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(unsafeHrefRe.ReplaceAll(buf.Bytes(), []byte(`$1="#"`)))
}
