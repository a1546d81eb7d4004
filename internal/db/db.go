package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mrwolf/adventure-server/internal/models"
)

const schema = `
-- One row per save slot; state_json excludes the summary
CREATE TABLE IF NOT EXISTS game_state (
    slot TEXT PRIMARY KEY,
    state_json TEXT NOT NULL,
    summary TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Background job tracking
CREATE TABLE IF NOT EXISTS job_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_type TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_game_state_updated ON game_state(updated_at);
CREATE INDEX IF NOT EXISTS idx_job_runs_type ON job_runs(job_type, started_at);
`

// timeFormat sorts lexicographically in time order
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

type DB struct {
	conn  *sqlx.DB
	clock clockwork.Clock
}

// Option configures a DB
type Option func(*DB)

// WithClock sets the clock used for timestamps
func WithClock(c clockwork.Clock) Option {
	return func(db *DB) {
		db.clock = c
	}
}

func Open(path string, opts ...Option) (*DB, error) {
	conn, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{conn: conn, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(db)
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) now() string {
	return db.clock.Now().UTC().Format(timeFormat)
}

// SlotRecord is a raw game_state row
type SlotRecord struct {
	Slot      string         `db:"slot"`
	StateJSON string         `db:"state_json"`
	Summary   sql.NullString `db:"summary"`
	CreatedAt string         `db:"created_at"`
	UpdatedAt string         `db:"updated_at"`
}

// Record returns the raw row for a slot, or nil if the slot was never saved
func (db *DB) Record(ctx context.Context, slot string) (*SlotRecord, error) {
	var rec SlotRecord
	err := db.conn.GetContext(ctx, &rec, `
		SELECT slot, state_json, summary, created_at, updated_at
		FROM game_state
		WHERE slot = ?
	`, slot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying slot %q: %w", slot, err)
	}
	return &rec, nil
}

// Load returns the saved state of a slot with its summary attached, or nil
// if the slot was never saved
func (db *DB) Load(ctx context.Context, slot string) (*models.GameState, error) {
	rec, err := db.Record(ctx, slot)
	if err != nil || rec == nil {
		return nil, err
	}

	var state models.GameState
	if err := json.Unmarshal([]byte(rec.StateJSON), &state); err != nil {
		return nil, fmt.Errorf("decoding slot %q: %w", slot, err)
	}
	state.Normalize()
	state.Summary = rec.Summary.String
	return &state, nil
}

// Save upserts the state of a slot. created_at is kept from the first save;
// an empty summary is stored as NULL.
func (db *DB) Save(ctx context.Context, slot string, state models.GameState, summary string) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding slot %q: %w", slot, err)
	}

	now := db.now()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO game_state (slot, state_json, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			state_json = excluded.state_json,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`, slot, string(data), sql.NullString{String: summary, Valid: summary != ""}, now, now)
	if err != nil {
		return fmt.Errorf("saving slot %q: %w", slot, err)
	}
	return nil
}

// Slots returns every saved slot, most recently played first
func (db *DB) Slots(ctx context.Context) ([]string, error) {
	var slots []string
	err := db.conn.SelectContext(ctx, &slots, `
		SELECT slot FROM game_state ORDER BY updated_at DESC, slot ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	return slots, nil
}

// Delete removes a slot. Returns false if it did not exist.
func (db *DB) Delete(ctx context.Context, slot string) (bool, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM game_state WHERE slot = ?`, slot)
	if err != nil {
		return false, fmt.Errorf("deleting slot %q: %w", slot, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// JobRun is one execution of a background job
type JobRun struct {
	ID           int64          `db:"id"`
	JobType      string         `db:"job_type"`
	Status       string         `db:"status"`
	StartedAt    string         `db:"started_at"`
	CompletedAt  sql.NullString `db:"completed_at"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// StartJobRun records the start of a background job
func (db *DB) StartJobRun(ctx context.Context, jobType string) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `
		INSERT INTO job_runs (job_type, status, started_at)
		VALUES (?, 'running', ?)
	`, jobType, db.now())
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CompleteJobRun marks a job as completed, or failed when errMsg is set
func (db *DB) CompleteJobRun(ctx context.Context, runID int64, errMsg string) error {
	status := "completed"
	if errMsg != "" {
		status = "failed"
	}
	_, err := db.conn.ExecContext(ctx, `
		UPDATE job_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, status, db.now(), sql.NullString{String: errMsg, Valid: errMsg != ""}, runID)
	return err
}

// LastJobRun returns the most recent run of a job type, or nil
func (db *DB) LastJobRun(ctx context.Context, jobType string) (*JobRun, error) {
	var run JobRun
	err := db.conn.GetContext(ctx, &run, `
		SELECT id, job_type, status, started_at, completed_at, error_message
		FROM job_runs
		WHERE job_type = ?
		ORDER BY id DESC
		LIMIT 1
	`, jobType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
