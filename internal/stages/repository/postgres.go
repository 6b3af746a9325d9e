package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"permit_portal_backend/internal/stages/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pgQueries
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a store on an existing pool. The schema is managed by migrations.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: pool}, pool: pool}
}

// InTx runs fn inside a read-committed transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return pgError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgQueries{db: tx}); err != nil {
		return pgError(err)
	}
	return pgError(tx.Commit(ctx))
}

// SeedCatalog inserts the catalog definition into empty tables.
func (s *PostgresStore) SeedCatalog(ctx context.Context, def domain.CatalogDefinition) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent seeders on the stages table.
	if _, err := tx.Exec(ctx, `LOCK TABLE stages IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return false, err
	}
	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stages`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	for _, st := range def.Stages {
		var stageID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO stages (name, description, order_number, kind)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, st.Name, st.Description, st.Order, string(st.Kind)).Scan(&stageID)
		if err != nil {
			return false, fmt.Errorf("insert stage %q: %w", st.Name, err)
		}
		for _, r := range st.Requirements {
			if _, err := tx.Exec(ctx, `
				INSERT INTO stage_requirements (stage_id, type, name, is_mandatory, description)
				VALUES ($1, $2, $3, $4, $5)
			`, stageID, string(r.Type), r.Name, r.IsMandatory(), r.Description); err != nil {
				return false, fmt.Errorf("insert requirement %q: %w", r.Name, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// pgError maps retryable PostgreSQL failures to ErrConflict.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}

type pgQueries struct {
	db DBTX
}

func (q pgQueries) ListStages(ctx context.Context) ([]domain.Stage, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, order_number, description, kind
		FROM stages
		ORDER BY order_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		var (
			s    domain.Stage
			kind string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.OrderNumber, &s.Description, &kind); err != nil {
			return nil, err
		}
		s.Kind = domain.StageKind(kind)
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (q pgQueries) ListRequirements(ctx context.Context) ([]domain.Requirement, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, stage_id, type, name, is_mandatory, description
		FROM stage_requirements
		ORDER BY stage_id, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	defer rows.Close()

	var reqs []domain.Requirement
	for rows.Next() {
		var (
			r   domain.Requirement
			typ string
		)
		if err := rows.Scan(&r.ID, &r.StageID, &typ, &r.Name, &r.IsMandatory, &r.Description); err != nil {
			return nil, err
		}
		r.Type = domain.RequirementType(typ)
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

func (q pgQueries) CreateApplication(ctx context.Context, app domain.Application) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO applications (id, applicant_id, reference, status, current_stage_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, app.ID, app.ApplicantID, app.Reference, string(app.Status), app.CurrentStageID, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

const pgApplicationColumns = `id, applicant_id, reference, status, current_stage_id, created_at, updated_at`

func (q pgQueries) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	return q.scanApplication(q.db.QueryRow(ctx, `SELECT `+pgApplicationColumns+` FROM applications WHERE id = $1`, id))
}

func (q pgQueries) LockApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	return q.scanApplication(q.db.QueryRow(ctx, `SELECT `+pgApplicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
}

func (q pgQueries) scanApplication(row pgx.Row) (domain.Application, error) {
	var (
		app    domain.Application
		status string
	)
	err := row.Scan(&app.ID, &app.ApplicantID, &app.Reference, &status, &app.CurrentStageID, &app.CreatedAt, &app.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Application{}, ErrNotFound
	}
	if err != nil {
		return domain.Application{}, fmt.Errorf("get application: %w", err)
	}
	app.Status = domain.ApplicationStatus(status)
	return app, nil
}

func (q pgQueries) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q pgQueries) SetApplicationStatus(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("set application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q pgQueries) SetCurrentStage(ctx context.Context, id uuid.UUID, stageID int64, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE applications SET current_stage_id = $2, updated_at = $3 WHERE id = $1`, id, stageID, at)
	if err != nil {
		return fmt.Errorf("set current stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q pgQueries) InsertPendingProgress(ctx context.Context, applicationID uuid.UUID, stageIDs []int64) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO application_progress (application_id, stage_id, status)
		SELECT $1, unnest($2::bigint[]), 'pending'
	`, applicationID, stageIDs)
	if err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	return nil
}

func (q pgQueries) CountProgress(ctx context.Context, applicationID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM application_progress WHERE application_id = $1`, applicationID).Scan(&n)
	return n, err
}

func (q pgQueries) CountInProgress(ctx context.Context, applicationID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM application_progress WHERE application_id = $1 AND status = 'in_progress'
	`, applicationID).Scan(&n)
	return n, err
}

const pgProgressColumns = `p.application_id, p.stage_id, p.status, p.started_at, p.completed_at, p.completed_by, p.notes`

func (q pgQueries) ListProgress(ctx context.Context, applicationID uuid.UUID) ([]domain.Progress, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+pgProgressColumns+`
		FROM application_progress p
		JOIN stages s ON s.id = p.stage_id
		WHERE p.application_id = $1
		ORDER BY s.order_number
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []domain.Progress
	for rows.Next() {
		p, err := scanPgProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q pgQueries) GetProgress(ctx context.Context, applicationID uuid.UUID, stageID int64) (domain.Progress, error) {
	p, err := scanPgProgress(q.db.QueryRow(ctx, `
		SELECT `+pgProgressColumns+`
		FROM application_progress p
		WHERE p.application_id = $1 AND p.stage_id = $2
	`, applicationID, stageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Progress{}, ErrNotFound
	}
	return p, err
}

func scanPgProgress(row pgx.Row) (domain.Progress, error) {
	var (
		p      domain.Progress
		status string
	)
	if err := row.Scan(&p.ApplicationID, &p.StageID, &status, &p.StartedAt, &p.CompletedAt, &p.CompletedBy, &p.Notes); err != nil {
		return domain.Progress{}, err
	}
	p.Status = domain.ProgressStatus(status)
	return p, nil
}

func (q pgQueries) StartStage(ctx context.Context, applicationID uuid.UUID, stageID int64, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE application_progress
		SET status = 'in_progress', started_at = $3, completed_at = NULL, completed_by = NULL
		WHERE application_id = $1 AND stage_id = $2
	`, applicationID, stageID, at)
	if err != nil {
		return fmt.Errorf("start stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q pgQueries) CompleteStage(ctx context.Context, applicationID uuid.UUID, stageID int64, at time.Time, by uuid.NullUUID, notes *string) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE application_progress
		SET status = 'completed', completed_at = $3, completed_by = $4, notes = COALESCE($5, notes)
		WHERE application_id = $1 AND stage_id = $2
	`, applicationID, stageID, at, by, notes)
	if err != nil {
		return fmt.Errorf("complete stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgCompletionColumns = `application_id, requirement_id, status, completed_at, verified_by, notes, reference_id`

func (q pgQueries) UpsertCompletion(ctx context.Context, w domain.CompletionWrite, at time.Time) (domain.RequirementCompletion, error) {
	var completedAt *time.Time
	if w.Status == domain.CompletionCompleted {
		completedAt = &at
	}
	c, err := scanPgCompletion(q.db.QueryRow(ctx, `
		INSERT INTO requirement_completion
			(application_id, requirement_id, status, completed_at, verified_by, notes, reference_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id, requirement_id) DO UPDATE SET
			status       = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			verified_by  = COALESCE(EXCLUDED.verified_by, requirement_completion.verified_by),
			notes        = COALESCE(EXCLUDED.notes, requirement_completion.notes),
			reference_id = COALESCE(EXCLUDED.reference_id, requirement_completion.reference_id),
			updated_at   = EXCLUDED.updated_at
		RETURNING `+pgCompletionColumns,
		w.ApplicationID, w.RequirementID, string(w.Status), completedAt, w.VerifiedBy, w.Notes, w.ReferenceID, at))
	if err != nil {
		return domain.RequirementCompletion{}, fmt.Errorf("upsert completion: %w", err)
	}
	return c, nil
}

func (q pgQueries) GetCompletion(ctx context.Context, applicationID uuid.UUID, requirementID int64) (domain.RequirementCompletion, error) {
	c, err := scanPgCompletion(q.db.QueryRow(ctx, `
		SELECT `+pgCompletionColumns+`
		FROM requirement_completion
		WHERE application_id = $1 AND requirement_id = $2
	`, applicationID, requirementID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RequirementCompletion{}, ErrNotFound
	}
	return c, err
}

func (q pgQueries) ListCompletions(ctx context.Context, applicationID uuid.UUID) ([]domain.RequirementCompletion, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+pgCompletionColumns+`
		FROM requirement_completion
		WHERE application_id = $1
		ORDER BY requirement_id
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []domain.RequirementCompletion
	for rows.Next() {
		c, err := scanPgCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanPgCompletion(row pgx.Row) (domain.RequirementCompletion, error) {
	var (
		c      domain.RequirementCompletion
		status string
	)
	if err := row.Scan(&c.ApplicationID, &c.RequirementID, &status, &c.CompletedAt, &c.VerifiedBy, &c.Notes, &c.ReferenceID); err != nil {
		return domain.RequirementCompletion{}, err
	}
	c.Status = domain.CompletionStatus(status)
	return c, nil
}

func (q pgQueries) MissingMandatory(ctx context.Context, applicationID uuid.UUID, stageID int64) ([]int64, error) {
	rows, err := q.db.Query(ctx, `
		SELECT r.id
		FROM stage_requirements r
		LEFT JOIN requirement_completion c
			ON c.requirement_id = r.id AND c.application_id = $1 AND c.status = 'completed'
		WHERE r.stage_id = $2 AND r.is_mandatory AND c.requirement_id IS NULL
		ORDER BY r.id
	`, applicationID, stageID)
	if err != nil {
		return nil, fmt.Errorf("missing mandatory: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (q pgQueries) InsertTransition(ctx context.Context, t domain.Transition) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO stage_transitions (application_id, from_stage_id, to_stage_id, trigger, actor, notes, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ApplicationID, t.FromStageID, t.ToStageID, string(t.Trigger), t.Actor, t.Notes, t.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (q pgQueries) ListTransitions(ctx context.Context, applicationID uuid.UUID) ([]domain.Transition, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, application_id, from_stage_id, to_stage_id, trigger, actor, notes, occurred_at
		FROM stage_transitions
		WHERE application_id = $1
		ORDER BY id
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var (
			t       domain.Transition
			trigger string
		)
		if err := rows.Scan(&t.ID, &t.ApplicationID, &t.FromStageID, &t.ToStageID, &trigger, &t.Actor, &t.Notes, &t.OccurredAt); err != nil {
			return nil, err
		}
		t.Trigger = domain.Trigger(trigger)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q pgQueries) ListAdvanceCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.id
		FROM applications a
		JOIN application_progress p
			ON p.application_id = a.id AND p.stage_id = a.current_stage_id AND p.status = 'in_progress'
		WHERE a.status <> 'completed'
		  AND NOT EXISTS (
			SELECT 1
			FROM stage_requirements r
			LEFT JOIN requirement_completion c
				ON c.requirement_id = r.id AND c.application_id = a.id AND c.status = 'completed'
			WHERE r.stage_id = a.current_stage_id AND r.is_mandatory AND c.requirement_id IS NULL
		  )
		ORDER BY a.updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list advance candidates: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
