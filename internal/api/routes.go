package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mrwolf/adventure-server/internal/config"
	"github.com/mrwolf/adventure-server/internal/db"
	"github.com/mrwolf/adventure-server/internal/models"
	"github.com/mrwolf/adventure-server/internal/narrator"
)

// Sessions is the slot registry the handlers drive
type Sessions interface {
	Get(ctx context.Context, slot string) (models.UIState, error)
	Turn(ctx context.Context, slot, input string) (*narrator.TurnResult, error)
	Reset(slot string) bool
	Active() []string
}

// Store lists and deletes persisted slots
type Store interface {
	Slots(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, slot string) (bool, error)
	Ping(ctx context.Context) error
}

// JobHistory reads the last recorded run of a background job
type JobHistory interface {
	LastJobRun(ctx context.Context, jobType string) (*db.JobRun, error)
}

// Transcripts reads archived turns
type Transcripts interface {
	Turns(slot string) ([]models.ArchivedTurn, error)
}

// HealthReporter reports the last known provider health
type HealthReporter interface {
	Status() map[string]string
}

// Deps are the collaborators of the HTTP layer. Transcripts, Health and
// Jobs may be nil.
type Deps struct {
	Config      *config.Config
	Sessions    Sessions
	Store       Store
	Transcripts Transcripts
	Health      HealthReporter
	Jobs        JobHistory
	Logger      *slog.Logger
}

func NewRouter(d Deps) *chi.Mux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(LoggingMiddleware(d.Logger))

	handlers := NewHandlers(d)
	turnLimiter := NewRateLimiter(20, time.Minute)

	r.Get("/health", handlers.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Config))

		r.Group(func(r chi.Router) {
			r.Use(JSONContentType)

			r.Post("/sessions", handlers.CreateSession)
			r.Get("/sessions", handlers.ListSessions)
			r.Get("/sessions/{slot}", handlers.GetSession)
			r.With(SlotRateLimit(turnLimiter)).Post("/sessions/{slot}/turns", handlers.PlayTurn)
			r.Post("/sessions/{slot}/reset", handlers.ResetSession)
			r.Delete("/sessions/{slot}", handlers.DeleteSession)
		})

		r.Get("/sessions/{slot}/transcript", handlers.Transcript)
	})

	return r
}
