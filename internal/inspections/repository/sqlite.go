package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS inspection_schedules (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	stage_id       INTEGER NOT NULL REFERENCES stages(id),
	inspector_id   TEXT NOT NULL,
	scheduled_for  INTEGER NOT NULL,
	status         TEXT NOT NULL DEFAULT 'scheduled' CHECK (status IN ('scheduled', 'completed', 'cancelled')),
	comments       TEXT,
	completed_at   INTEGER,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
)`

const sqliteIndex = `
CREATE INDEX IF NOT EXISTS idx_inspection_schedules_lookup
	ON inspection_schedules (application_id, stage_id, created_at DESC)`

// SQLite implements Repository on database/sql with the modernc driver.
// The applications and stages tables must already exist.
type SQLite struct {
	db *sql.DB
}

var _ Repository = (*SQLite)(nil)

// NewSQLite creates the schedules table when missing.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	for _, stmt := range []string{sqliteSchema, sqliteIndex} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create inspection schema: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

// liteQuerier is satisfied by the handle and by a transaction.
type liteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Book runs guard and inserts s in one transaction. The single-connection
// handle serializes transactions, so reading the application row is enough.
func (r *SQLite) Book(ctx context.Context, s Schedule, guard Guard) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin booking: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM applications WHERE id = ?`, s.ApplicationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrApplicationNotFound
	}
	if err != nil {
		return fmt.Errorf("lock application: %w", err)
	}
	if guard != nil {
		if err := guard(ctx, liteLookup{q: tx}); err != nil {
			return err
		}
	}
	if err := liteInsert(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking: %w", err)
	}
	return nil
}

func liteInsert(ctx context.Context, q liteQuerier, s Schedule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inspection_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ApplicationID, s.StageID, s.InspectorID, s.ScheduledFor.UnixNano(), string(s.Status),
		nullString(s.Comments), nullTime(s.CompletedAt), s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert inspection schedule: %w", err)
	}
	return nil
}

// Get loads one schedule.
func (r *SQLite) Get(ctx context.Context, id uuid.UUID) (Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM inspection_schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

// Latest returns the newest schedule of the stage for the application.
func (r *SQLite) Latest(ctx context.Context, applicationID uuid.UUID, stageID int64) (Schedule, error) {
	return liteLookup{q: r.db}.Latest(ctx, applicationID, stageID)
}

type liteLookup struct {
	q liteQuerier
}

func (l liteLookup) Latest(ctx context.Context, applicationID uuid.UUID, stageID int64) (Schedule, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM inspection_schedules
		WHERE application_id = ? AND stage_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, applicationID, stageID)
	return scanSchedule(row)
}

// ListForApplication returns every schedule of the application by slot.
func (r *SQLite) ListForApplication(ctx context.Context, applicationID uuid.UUID) ([]Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM inspection_schedules
		WHERE application_id = ?
		ORDER BY scheduled_for, created_at
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list inspection schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update applies c when the schedule is still scheduled.
func (r *SQLite) Update(ctx context.Context, id uuid.UUID, c Change) (Schedule, error) {
	var scheduledFor sql.NullInt64
	if c.ScheduledFor != nil {
		scheduledFor = sql.NullInt64{Int64: c.ScheduledFor.UnixNano(), Valid: true}
	}
	var inspector sql.NullString
	if c.InspectorID != nil {
		inspector = sql.NullString{String: c.InspectorID.String(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE inspection_schedules SET
			status        = ?,
			inspector_id  = COALESCE(?, inspector_id),
			scheduled_for = COALESCE(?, scheduled_for),
			comments      = COALESCE(?, comments),
			completed_at  = COALESCE(?, completed_at),
			updated_at    = ?
		WHERE id = ? AND status = 'scheduled'
	`, string(c.Status), inspector, scheduledFor, nullString(c.Comments), nullTime(c.CompletedAt), c.At.UnixNano(), id)
	if err != nil {
		return Schedule{}, fmt.Errorf("update inspection schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Schedule{}, err
	}
	s, err := r.Get(ctx, id)
	if err != nil {
		return Schedule{}, err
	}
	if n == 0 {
		return Schedule{}, ErrNotScheduled
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (Schedule, error) {
	var (
		s                                  Schedule
		status                             string
		comments                           sql.NullString
		scheduledFor, createdAt, updatedAt int64
		completedAt                        sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.ApplicationID, &s.StageID, &s.InspectorID, &scheduledFor, &status,
		&comments, &completedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("scan inspection schedule: %w", err)
	}
	s.Status = Status(status)
	s.ScheduledFor = time.Unix(0, scheduledFor).UTC()
	s.CreatedAt = time.Unix(0, createdAt).UTC()
	s.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if comments.Valid {
		s.Comments = &comments.String
	}
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		s.CompletedAt = &t
	}
	return s, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
