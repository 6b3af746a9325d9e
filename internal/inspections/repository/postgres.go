package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const scheduleColumns = `id, application_id, stage_id, inspector_id, scheduled_for, status, comments, completed_at, created_at, updated_at`

// Postgres is the pgx implementation of Repository.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Postgres)(nil)

// NewPostgres creates a schedules repository on the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// pgQuerier is satisfied by the pool and by a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Book locks the application row, runs guard and inserts s in one transaction.
func (r *Postgres) Book(ctx context.Context, s Schedule, guard Guard) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM applications WHERE id = $1 FOR UPDATE`, s.ApplicationID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrApplicationNotFound
		}
		if err != nil {
			return fmt.Errorf("lock application: %w", err)
		}
		if guard != nil {
			if err := guard(ctx, pgLookup{q: tx}); err != nil {
				return err
			}
		}
		return pgInsert(ctx, tx, s)
	})
}

func pgInsert(ctx context.Context, q pgQuerier, s Schedule) error {
	_, err := q.Exec(ctx, `
		INSERT INTO inspection_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.ApplicationID, s.StageID, s.InspectorID, s.ScheduledFor, string(s.Status),
		s.Comments, s.CompletedAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert inspection schedule: %w", err)
	}
	return nil
}

// Get loads one schedule.
func (r *Postgres) Get(ctx context.Context, id uuid.UUID) (Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM inspection_schedules WHERE id = $1`, id)
	if err != nil {
		return Schedule{}, fmt.Errorf("get inspection schedule: %w", err)
	}
	return collectOne(rows)
}

// Latest returns the newest schedule of the stage for the application.
func (r *Postgres) Latest(ctx context.Context, applicationID uuid.UUID, stageID int64) (Schedule, error) {
	return pgLookup{q: r.pool}.Latest(ctx, applicationID, stageID)
}

type pgLookup struct {
	q pgQuerier
}

func (l pgLookup) Latest(ctx context.Context, applicationID uuid.UUID, stageID int64) (Schedule, error) {
	rows, err := l.q.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM inspection_schedules
		WHERE application_id = $1 AND stage_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, applicationID, stageID)
	if err != nil {
		return Schedule{}, fmt.Errorf("latest inspection schedule: %w", err)
	}
	return collectOne(rows)
}

// ListForApplication returns every schedule of the application by slot.
func (r *Postgres) ListForApplication(ctx context.Context, applicationID uuid.UUID) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM inspection_schedules
		WHERE application_id = $1
		ORDER BY scheduled_for, created_at
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list inspection schedules: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[Schedule])
	if err != nil {
		return nil, fmt.Errorf("scan inspection schedules: %w", err)
	}
	return out, nil
}

// Update applies c when the schedule is still scheduled.
func (r *Postgres) Update(ctx context.Context, id uuid.UUID, c Change) (Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE inspection_schedules SET
			status        = $2,
			inspector_id  = COALESCE($3, inspector_id),
			scheduled_for = COALESCE($4, scheduled_for),
			comments      = COALESCE($5, comments),
			completed_at  = COALESCE($6, completed_at),
			updated_at    = $7
		WHERE id = $1 AND status = 'scheduled'
		RETURNING `+scheduleColumns,
		id, string(c.Status), c.InspectorID, c.ScheduledFor, c.Comments, c.CompletedAt, c.At)
	if err != nil {
		return Schedule{}, fmt.Errorf("update inspection schedule: %w", err)
	}
	s, err := collectOne(rows)
	if !errors.Is(err, ErrNotFound) {
		return s, err
	}
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return Schedule{}, getErr
	}
	return Schedule{}, ErrNotScheduled
}

func collectOne(rows pgx.Rows) (Schedule, error) {
	s, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[Schedule])
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("scan inspection schedule: %w", err)
	}
	return s, nil
}
