// Package repository persists the stage catalog, application progress,
// requirement completions and transition history.
//
// Two drivers implement Store: PostgreSQL through pgx for deployments and
// SQLite through modernc for local runs and tests.
package repository

import (
	"context"
	"errors"
	"time"

	"permit_portal_backend/internal/stages/domain"

	"github.com/google/uuid"
)

// ErrConflict is returned when the store aborts a transaction because of a
// concurrent writer (serialization failure, deadlock, busy database).
var ErrConflict = errors.New("transaction conflict")

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Queries is the set of reads and writes available both on the store and
// inside a transaction.
type Queries interface {
	ListStages(ctx context.Context) ([]domain.Stage, error)
	ListRequirements(ctx context.Context) ([]domain.Requirement, error)

	CreateApplication(ctx context.Context, app domain.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	// LockApplication reads the application and holds a row lock on it
	// until the surrounding transaction ends.
	LockApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	DeleteApplication(ctx context.Context, id uuid.UUID) error
	SetApplicationStatus(ctx context.Context, id uuid.UUID, status domain.ApplicationStatus, at time.Time) error
	SetCurrentStage(ctx context.Context, id uuid.UUID, stageID int64, at time.Time) error

	InsertPendingProgress(ctx context.Context, applicationID uuid.UUID, stageIDs []int64) error
	CountProgress(ctx context.Context, applicationID uuid.UUID) (int, error)
	ListProgress(ctx context.Context, applicationID uuid.UUID) ([]domain.Progress, error)
	GetProgress(ctx context.Context, applicationID uuid.UUID, stageID int64) (domain.Progress, error)
	CountInProgress(ctx context.Context, applicationID uuid.UUID) (int, error)
	StartStage(ctx context.Context, applicationID uuid.UUID, stageID int64, at time.Time) error
	CompleteStage(ctx context.Context, applicationID uuid.UUID, stageID int64, at time.Time, by uuid.NullUUID, notes *string) error

	// UpsertCompletion inserts or updates one completion row atomically.
	UpsertCompletion(ctx context.Context, w domain.CompletionWrite, at time.Time) (domain.RequirementCompletion, error)
	GetCompletion(ctx context.Context, applicationID uuid.UUID, requirementID int64) (domain.RequirementCompletion, error)
	ListCompletions(ctx context.Context, applicationID uuid.UUID) ([]domain.RequirementCompletion, error)
	// MissingMandatory returns the ids of mandatory requirements of the
	// stage that have no completed row for the application.
	MissingMandatory(ctx context.Context, applicationID uuid.UUID, stageID int64) ([]int64, error)

	InsertTransition(ctx context.Context, t domain.Transition) error
	ListTransitions(ctx context.Context, applicationID uuid.UUID) ([]domain.Transition, error)

	// ListAdvanceCandidates returns applications whose current stage is in
	// progress with every mandatory requirement completed.
	ListAdvanceCandidates(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Store is a Queries implementation that can also open transactions.
type Store interface {
	Queries
	// InTx runs fn in a read-committed transaction. It commits when fn
	// returns nil. Driver conflicts surface as ErrConflict.
	InTx(ctx context.Context, fn func(q Queries) error) error
	// SeedCatalog inserts the definition when no stages exist yet and
	// reports whether it did.
	SeedCatalog(ctx context.Context, def domain.CatalogDefinition) (bool, error)
}

// LoadCatalog reads and validates the persisted catalog.
func LoadCatalog(ctx context.Context, q Queries) (*domain.Catalog, error) {
	stages, err := q.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	reqs, err := q.ListRequirements(ctx)
	if err != nil {
		return nil, err
	}
	return domain.NewCatalog(stages, reqs)
}
