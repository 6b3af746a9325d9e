// Package repository persists inspection schedules.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a schedule. Rescheduling keeps a
// schedule in StatusScheduled with a new slot.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ErrNotFound is returned when no schedule matches.
var ErrNotFound = errors.New("inspection schedule not found")

// ErrApplicationNotFound is returned by Book when the application is gone.
var ErrApplicationNotFound = errors.New("application not found")

// ErrNotScheduled is returned by Update when the schedule left the
// scheduled state before the write.
var ErrNotScheduled = errors.New("inspection schedule is not scheduled")

// Schedule is one booked inspection visit.
type Schedule struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ApplicationID uuid.UUID  `db:"application_id" json:"applicationId"`
	StageID       int64      `db:"stage_id" json:"stageId"`
	InspectorID   uuid.UUID  `db:"inspector_id" json:"inspectorId"`
	ScheduledFor  time.Time  `db:"scheduled_for" json:"scheduledFor"`
	Status        Status     `db:"status" json:"status"`
	Comments      *string    `db:"comments" json:"comments"`
	CompletedAt   *time.Time `db:"completed_at" json:"completedAt"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// Change describes a state change of a scheduled inspection. Nil fields
// keep their stored value.
type Change struct {
	Status       Status
	InspectorID  *uuid.UUID
	ScheduledFor *time.Time
	Comments     *string
	CompletedAt  *time.Time
	At           time.Time
}

// Lookup reads schedules. Book hands guards a Lookup bound to its
// transaction.
type Lookup interface {
	// Latest returns the most recently created schedule for a stage.
	Latest(ctx context.Context, applicationID uuid.UUID, stageID int64) (Schedule, error)
}

// Guard vets a booking before it is inserted.
type Guard func(ctx context.Context, tx Lookup) error

// Repository stores inspection schedules.
type Repository interface {
	Lookup
	// Book inserts s once guard accepts it. The application row is locked
	// before guard runs and stays locked until the insert commits, so
	// bookings for one application are serialized.
	Book(ctx context.Context, s Schedule, guard Guard) error
	Get(ctx context.Context, id uuid.UUID) (Schedule, error)
	ListForApplication(ctx context.Context, applicationID uuid.UUID) ([]Schedule, error)
	// Update applies the change only while the schedule is still scheduled.
	Update(ctx context.Context, id uuid.UUID, c Change) (Schedule, error)
}
