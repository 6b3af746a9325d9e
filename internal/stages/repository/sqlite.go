package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"permit_portal_backend/internal/stages/domain"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteStore implements Store on database/sql with the modernc driver.
// Timestamps are stored as Unix nanoseconds.
type SQLiteStore struct {
	liteQueries
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite creates the schema if needed and returns a store.
// The handle should come from db.OpenSQLite so writers are serialized.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create sqlite schema: %w", err)
		}
	}
	return &SQLiteStore{liteQueries: liteQueries{db: db}, db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL UNIQUE,
	description  TEXT NOT NULL DEFAULT '',
	order_number INTEGER NOT NULL UNIQUE CHECK (order_number > 0),
	kind         TEXT NOT NULL DEFAULT 'general' CHECK (kind IN ('general', 'inspection_scheduling', 'inspection'))
);
CREATE TABLE IF NOT EXISTS stage_requirements (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	stage_id     INTEGER NOT NULL REFERENCES stages(id) ON DELETE CASCADE,
	type         TEXT NOT NULL CHECK (type IN ('form', 'document', 'approval', 'payment', 'inspection')),
	name         TEXT NOT NULL,
	is_mandatory INTEGER NOT NULL DEFAULT 1,
	description  TEXT NOT NULL DEFAULT '',
	UNIQUE (stage_id, name)
);
CREATE TABLE IF NOT EXISTS applications (
	id               TEXT PRIMARY KEY,
	applicant_id     TEXT,
	reference        TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'draft'
	                 CHECK (status IN ('draft', 'pending', 'submitted', 'in_review', 'approved', 'rejected', 'completed')),
	current_stage_id INTEGER REFERENCES stages(id),
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS application_progress (
	application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	stage_id       INTEGER NOT NULL REFERENCES stages(id),
	status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'in_progress', 'completed', 'rejected')),
	started_at     INTEGER,
	completed_at   INTEGER,
	completed_by   TEXT,
	notes          TEXT,
	PRIMARY KEY (application_id, stage_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_application_progress_single_active
	ON application_progress (application_id) WHERE status = 'in_progress';
CREATE TABLE IF NOT EXISTS requirement_completion (
	application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	requirement_id INTEGER NOT NULL REFERENCES stage_requirements(id),
	status         TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'completed', 'rejected')),
	completed_at   INTEGER,
	verified_by    TEXT,
	notes          TEXT,
	reference_id   TEXT,
	updated_at     INTEGER NOT NULL,
	PRIMARY KEY (application_id, requirement_id)
);
CREATE TABLE IF NOT EXISTS stage_transitions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
	from_stage_id  INTEGER NOT NULL REFERENCES stages(id),
	to_stage_id    INTEGER REFERENCES stages(id),
	trigger        TEXT NOT NULL,
	actor          TEXT,
	notes          TEXT,
	occurred_at    INTEGER NOT NULL
);`

// InTx runs fn inside a transaction on the store's connection.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(liteQueries{db: tx}); err != nil {
		return sqliteError(err)
	}
	return sqliteError(tx.Commit())
}

// SeedCatalog inserts the catalog definition into empty tables.
func (s *SQLiteStore) SeedCatalog(ctx context.Context, def domain.CatalogDefinition) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stages`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	for _, st := range def.Stages {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stages (name, description, order_number, kind) VALUES (?, ?, ?, ?)
		`, st.Name, st.Description, st.Order, string(st.Kind))
		if err != nil {
			return false, fmt.Errorf("insert stage %q: %w", st.Name, err)
		}
		stageID, err := res.LastInsertId()
		if err != nil {
			return false, err
		}
		for _, r := range st.Requirements {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stage_requirements (stage_id, type, name, is_mandatory, description)
				VALUES (?, ?, ?, ?, ?)
			`, stageID, string(r.Type), r.Name, r.IsMandatory(), r.Description); err != nil {
				return false, fmt.Errorf("insert requirement %q: %w", r.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// sqliteError maps busy and locked results to ErrConflict.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s", ErrConflict, se.Error())
		}
	}
	return err
}

type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type liteQueries struct {
	db sqlExecutor
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func fromNanos(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q liteQueries) ListStages(ctx context.Context) ([]domain.Stage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, order_number, description, kind FROM stages ORDER BY order_number
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

func (q liteQueries) ListRequirements(ctx context.Context) ([]domain.Requirement, error) {
	rows, err := q.db.QueryContext(ctx, `
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

func (q liteQueries) CreateApplication(ctx context.Context, app domain.Application) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO applications (id, applicant_id, reference, status, current_stage_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, app.ID, app.ApplicantID, app.Reference, string(app.Status), nullInt64(app.CurrentStageID),
		nanos(app.CreatedAt), nanos(app.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

const liteApplicationColumns = `id, applicant_id, reference, status, current_stage_id, created_at, updated_at`

func (q liteQueries) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	return scanLiteApplication(q.db.QueryRowContext(ctx, `SELECT `+liteApplicationColumns+` FROM applications WHERE id = ?`, id))
}

// LockApplication is a plain read: the single-connection handle already
// serializes transactions.
func (q liteQueries) LockApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	return q.GetApplication(ctx, id)
}

func scanLiteApplication(row rowScanner) (domain.Application, error) {
	var (
		app       domain.Application
		status    string
		stageID   sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&app.ID, &app.ApplicantID, &app.Reference, &status, &stageID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Application{}, ErrNotFound
	}
	if err != nil {
		return domain.Application{}, fmt.Errorf("get application: %w", err)
	}
	app.Status = domain.ApplicationStatus(status)
	app.CurrentStageID = fromNullInt64(stageID)
	app.CreatedAt = fromNanos(createdAt)
	app.UpdatedAt = fromNanos(updatedAt)
	return app, nil
}

func (q liteQueries) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM applications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	return affectedOne(res)
}

func (q liteQueries) SetApplicationStatus(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE applications SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nanos(at), id)
	if err != nil {
		return fmt.Errorf("set application status: %w", err)
	}
	return affectedOne(res)
}

func (q liteQueries) SetCurrentStage(ctx context.Context, id uuid.UUID, stageID int64, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE applications SET current_stage_id = ?, updated_at = ? WHERE id = ?`,
		stageID, nanos(at), id)
	if err != nil {
		return fmt.Errorf("set current stage: %w", err)
	}
	return affectedOne(res)
}

func (q liteQueries) InsertPendingProgress(ctx context.Context, applicationID uuid.UUID, stageIDs []int64) error {
	for _, id := range stageIDs {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO application_progress (application_id, stage_id, status) VALUES (?, ?, 'pending')
		`, applicationID, id); err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
	}
	return nil
}

func (q liteQueries) CountProgress(ctx context.Context, applicationID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM application_progress WHERE application_id = ?`, applicationID).Scan(&n)
	return n, err
}

func (q liteQueries) CountInProgress(ctx context.Context, applicationID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM application_progress WHERE application_id = ? AND status = 'in_progress'
	`, applicationID).Scan(&n)
	return n, err
}

const liteProgressColumns = `p.application_id, p.stage_id, p.status, p.started_at, p.completed_at, p.completed_by, p.notes`

func (q liteQueries) ListProgress(ctx context.Context, applicationID uuid.UUID) ([]domain.Progress, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+liteProgressColumns+`
		FROM application_progress p
		JOIN stages s ON s.id = p.stage_id
		WHERE p.application_id = ?
		ORDER BY s.order_number
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []domain.Progress
	for rows.Next() {
		p, err := scanLiteProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q liteQueries) GetProgress(ctx context.Context, applicationID uuid.UUID, stageID int64) (domain.Progress, error) {
	p, err := scanLiteProgress(q.db.QueryRowContext(ctx, `
		SELECT `+liteProgressColumns+`
		FROM application_progress p
		WHERE p.application_id = ? AND p.stage_id = ?
	`, applicationID, stageID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, ErrNotFound
	}
	return p, err
}

func scanLiteProgress(row rowScanner) (domain.Progress, error) {
	var (
		p           domain.Progress
		status      string
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
		notes       sql.NullString
	)
	if err := row.Scan(&p.ApplicationID, &p.StageID, &status, &startedAt, &completedAt, &p.CompletedBy, &notes); err != nil {
		return domain.Progress{}, err
	}
	p.Status = domain.ProgressStatus(status)
	p.StartedAt = fromNullNanos(startedAt)
	p.CompletedAt = fromNullNanos(completedAt)
	p.Notes = fromNullString(notes)
	return p, nil
}

func (q liteQueries) StartStage(ctx context.Context, applicationID uuid.UUID, stageID int64, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE application_progress
		SET status = 'in_progress', started_at = ?, completed_at = NULL, completed_by = NULL
		WHERE application_id = ? AND stage_id = ?
	`, nanos(at), applicationID, stageID)
	if err != nil {
		return fmt.Errorf("start stage: %w", err)
	}
	return affectedOne(res)
}

func (q liteQueries) CompleteStage(ctx context.Context, applicationID uuid.UUID, stageID int64, at time.Time, by uuid.NullUUID, notes *string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE application_progress
		SET status = 'completed', completed_at = ?, completed_by = ?, notes = COALESCE(?, notes)
		WHERE application_id = ? AND stage_id = ?
	`, nanos(at), by, notes, applicationID, stageID)
	if err != nil {
		return fmt.Errorf("complete stage: %w", err)
	}
	return affectedOne(res)
}

const liteCompletionColumns = `application_id, requirement_id, status, completed_at, verified_by, notes, reference_id`

func (q liteQueries) UpsertCompletion(ctx context.Context, w domain.CompletionWrite, at time.Time) (domain.RequirementCompletion, error) {
	completedAt := sql.NullInt64{}
	if w.Status == domain.CompletionCompleted {
		completedAt = sql.NullInt64{Int64: nanos(at), Valid: true}
	}
	c, err := scanLiteCompletion(q.db.QueryRowContext(ctx, `
		INSERT INTO requirement_completion
			(application_id, requirement_id, status, completed_at, verified_by, notes, reference_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (application_id, requirement_id) DO UPDATE SET
			status       = excluded.status,
			completed_at = excluded.completed_at,
			verified_by  = COALESCE(excluded.verified_by, requirement_completion.verified_by),
			notes        = COALESCE(excluded.notes, requirement_completion.notes),
			reference_id = COALESCE(excluded.reference_id, requirement_completion.reference_id),
			updated_at   = excluded.updated_at
		RETURNING `+liteCompletionColumns,
		w.ApplicationID, w.RequirementID, string(w.Status), completedAt, w.VerifiedBy, w.Notes, w.ReferenceID, nanos(at)))
	if err != nil {
		return domain.RequirementCompletion{}, fmt.Errorf("upsert completion: %w", err)
	}
	return c, nil
}

func (q liteQueries) GetCompletion(ctx context.Context, applicationID uuid.UUID, requirementID int64) (domain.RequirementCompletion, error) {
	c, err := scanLiteCompletion(q.db.QueryRowContext(ctx, `
		SELECT `+liteCompletionColumns+`
		FROM requirement_completion
		WHERE application_id = ? AND requirement_id = ?
	`, applicationID, requirementID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RequirementCompletion{}, ErrNotFound
	}
	return c, err
}

func (q liteQueries) ListCompletions(ctx context.Context, applicationID uuid.UUID) ([]domain.RequirementCompletion, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+liteCompletionColumns+`
		FROM requirement_completion
		WHERE application_id = ?
		ORDER BY requirement_id
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []domain.RequirementCompletion
	for rows.Next() {
		c, err := scanLiteCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanLiteCompletion(row rowScanner) (domain.RequirementCompletion, error) {
	var (
		c           domain.RequirementCompletion
		status      string
		completedAt sql.NullInt64
		notes       sql.NullString
		reference   sql.NullString
	)
	if err := row.Scan(&c.ApplicationID, &c.RequirementID, &status, &completedAt, &c.VerifiedBy, &notes, &reference); err != nil {
		return domain.RequirementCompletion{}, err
	}
	c.Status = domain.CompletionStatus(status)
	c.CompletedAt = fromNullNanos(completedAt)
	c.Notes = fromNullString(notes)
	c.ReferenceID = fromNullString(reference)
	return c, nil
}

func (q liteQueries) MissingMandatory(ctx context.Context, applicationID uuid.UUID, stageID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT r.id
		FROM stage_requirements r
		LEFT JOIN requirement_completion c
			ON c.requirement_id = r.id AND c.application_id = ? AND c.status = 'completed'
		WHERE r.stage_id = ? AND r.is_mandatory = 1 AND c.requirement_id IS NULL
		ORDER BY r.id
	`, applicationID, stageID)
	if err != nil {
		return nil, fmt.Errorf("missing mandatory: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q liteQueries) InsertTransition(ctx context.Context, t domain.Transition) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO stage_transitions (application_id, from_stage_id, to_stage_id, trigger, actor, notes, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ApplicationID, t.FromStageID, nullInt64(t.ToStageID), string(t.Trigger), t.Actor, t.Notes, nanos(t.OccurredAt))
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (q liteQueries) ListTransitions(ctx context.Context, applicationID uuid.UUID) ([]domain.Transition, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, application_id, from_stage_id, to_stage_id, trigger, actor, notes, occurred_at
		FROM stage_transitions
		WHERE application_id = ?
		ORDER BY id
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var (
			t          domain.Transition
			toStage    sql.NullInt64
			trigger    string
			notes      sql.NullString
			occurredAt int64
		)
		if err := rows.Scan(&t.ID, &t.ApplicationID, &t.FromStageID, &toStage, &trigger, &t.Actor, &notes, &occurredAt); err != nil {
			return nil, err
		}
		t.ToStageID = fromNullInt64(toStage)
		t.Trigger = domain.Trigger(trigger)
		t.Notes = fromNullString(notes)
		t.OccurredAt = fromNanos(occurredAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q liteQueries) ListAdvanceCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, `
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
			WHERE r.stage_id = a.current_stage_id AND r.is_mandatory = 1 AND c.requirement_id IS NULL
		  )
		ORDER BY a.updated_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list advance candidates: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
