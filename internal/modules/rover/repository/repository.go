package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"tofyx-server/internal/modules/rover/types"
)

// storedTimeLayout pads fractional seconds to fixed width. Timestamps are
// compared lexicographically in SQL, so every stored value must have the
// same length; RFC3339Nano strips trailing zeros and would misorder
// same-second values.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed sql/deactivate-sessions.sql
var deactivateSessionsSQL string

//go:embed sql/insert-session.sql
var insertSessionSQL string

//go:embed sql/get-active-session.sql
var getActiveSessionSQL string

//go:embed sql/insert-telemetry.sql
var insertTelemetrySQL string

//go:embed sql/get-telemetry.sql
var getTelemetrySQL string

//go:embed sql/get-tables.sql
var getTablesSQL string

type RoverRepository interface {
	// StartSession deactivates any active sessions (stamping ended_at) and
	// inserts a new active one, in a single transaction.
	StartSession(ctx context.Context, id string, startedAt time.Time, note string) error
	// StopSessions deactivates all active sessions. No-op when none is active.
	StopSessions(ctx context.Context, endedAt time.Time) error
	// ActiveSession returns the active session, or nil when there is none.
	ActiveSession(ctx context.Context) (*types.Session, error)
	// InsertSnapshot persists one snapshot document with the given created_at.
	InsertSnapshot(ctx context.Context, payload []byte, createdAt time.Time) error
	// Snapshots returns stored documents with created_at >= since (no filter
	// when since is zero), newest first, at most limit rows.
	Snapshots(ctx context.Context, since time.Time, limit int) ([]types.StoredRow, error)
	// Tables lists user table names, for the connectivity diagnostic.
	Tables(ctx context.Context) ([]string, error)
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) RoverRepository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) StartSession(ctx context.Context, id string, startedAt time.Time, note string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Error("rollback session tx", "error", err)
		}
	}()

	ended := startedAt.UTC().Format(storedTimeLayout)
	if _, err := tx.ExecContext(ctx, deactivateSessionsSQL, ended); err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}
	started := startedAt.UTC().Format(storedTimeLayout)
	if _, err := tx.ExecContext(ctx, insertSessionSQL, id, started, note); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}

func (r *repositoryImpl) StopSessions(ctx context.Context, endedAt time.Time) error {
	ended := endedAt.UTC().Format(storedTimeLayout)
	if _, err := r.db.ExecContext(ctx, deactivateSessionsSQL, ended); err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}
	return nil
}

func (r *repositoryImpl) ActiveSession(ctx context.Context) (*types.Session, error) {
	var (
		s       types.Session
		active  int
		started string
		ended   sql.NullString
	)
	err := r.db.QueryRowContext(ctx, getActiveSessionSQL).Scan(&s.ID, &active, &started, &ended, &s.Note)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Active = active != 0
	s.StartedAt, err = parseStoredTime(started)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	if ended.Valid {
		t, err := parseStoredTime(ended.String)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
		s.EndedAt = &t
	}
	return &s, nil
}

func (r *repositoryImpl) InsertSnapshot(ctx context.Context, payload []byte, createdAt time.Time) error {
	created := createdAt.UTC().Format(storedTimeLayout)
	if _, err := r.db.ExecContext(ctx, insertTelemetrySQL, string(payload), created); err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

func (r *repositoryImpl) Snapshots(ctx context.Context, since time.Time, limit int) ([]types.StoredRow, error) {
	sinceStr := ""
	if !since.IsZero() {
		sinceStr = since.UTC().Format(storedTimeLayout)
	}
	rows, err := r.db.QueryContext(ctx, getTelemetrySQL, sinceStr, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close telemetry rows", "error", err)
		}
	}()

	var out []types.StoredRow
	for rows.Next() {
		var (
			row     types.StoredRow
			payload string
			created string
		)
		if err := rows.Scan(&row.ID, &payload, &created); err != nil {
			return nil, err
		}
		row.Payload = []byte(payload)
		row.CreatedAt, err = parseStoredTime(created)
		if err != nil {
			return nil, fmt.Errorf("telemetry %d: %w", row.ID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, getTablesSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close tables rows", "error", err)
		}
	}()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		var err2 error
		t, err2 = time.Parse(time.RFC3339, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: RFC3339Nano: %w; RFC3339: %w", s, err, err2)
		}
	}
	return t, nil
}
