// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"permit_portal_backend/platform/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Re-export platform types for convenience
type (
	Event        = events.Event
	Bus          = events.Bus
	Handler      = events.Handler
	HandlerFunc  = events.HandlerFunc
	BaseEvent    = events.BaseEvent
	Deduplicated = events.Deduplicated
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// Event names. Broker routing keys use the same strings.
const (
	NamePaymentCompleted    = "payments.payment.completed"
	NameDocumentCompliant   = "documents.document.compliant"
	NameInspectionCompleted = "inspections.inspection.completed"
	NameInspectionScheduled = "inspections.inspection.scheduled"
	NameInspectionRecorded  = "inspections.inspection.recorded"
	NameStageAdvanced       = "stages.stage.advanced"
	NameApplicationComplete = "stages.application.completed"
)

// =============================================================================
// Inbound Trigger Events
// =============================================================================

// PaymentType distinguishes plan-approval fees from consolidated stage payments.
type PaymentType string

const (
	PaymentTypePlan  PaymentType = "plan"
	PaymentTypeStage PaymentType = "stage"
)

// PaymentCompleted is emitted by the payment subsystem once a payment settles.
type PaymentCompleted struct {
	BaseEvent
	ApplicationID    uuid.UUID       `json:"applicationId" validate:"required"`
	PaymentType      PaymentType     `json:"paymentType" validate:"required,oneof=plan stage"`
	StageDescription *string         `json:"stageDescription,omitempty" validate:"omitempty,max=200"`
	PaymentID        string          `json:"paymentId" validate:"notblank,max=100"`
	Amount           decimal.Decimal `json:"amount" validate:"nonnegative"`
}

func (e PaymentCompleted) EventName() string { return NamePaymentCompleted }
func (e PaymentCompleted) DedupeKey() string { return "payment:" + e.PaymentID }

// DocumentCompliant is emitted by the compliance checker for documents that passed.
type DocumentCompliant struct {
	BaseEvent
	ApplicationID uuid.UUID `json:"applicationId" validate:"required"`
	DocumentID    string    `json:"documentId" validate:"notblank,max=100"`
	DocumentName  *string   `json:"documentName,omitempty" validate:"omitempty,max=200"`
}

func (e DocumentCompliant) EventName() string { return NameDocumentCompliant }
func (e DocumentCompliant) DedupeKey() string { return "document:" + e.DocumentID }

// InspectionCompleted is the inspector's report that a booked visit took place.
type InspectionCompleted struct {
	BaseEvent
	ScheduleID  uuid.UUID `json:"scheduleId" validate:"required"`
	InspectorID uuid.UUID `json:"inspectorId" validate:"required"`
	Comments    string    `json:"comments" validate:"max=2000"`
}

func (e InspectionCompleted) EventName() string { return NameInspectionCompleted }
func (e InspectionCompleted) DedupeKey() string { return "inspection:" + e.ScheduleID.String() }

// =============================================================================
// Inspection Module Events
// =============================================================================

// InspectionScheduled is published after a booking passed the order guard and was stored.
type InspectionScheduled struct {
	BaseEvent
	ScheduleID    uuid.UUID `json:"scheduleId"`
	ApplicationID uuid.UUID `json:"applicationId"`
	StageID       int64     `json:"stageId"`
	InspectorID   uuid.UUID `json:"inspectorId"`
	ScheduledFor  time.Time `json:"scheduledFor"`
}

func (e InspectionScheduled) EventName() string { return NameInspectionScheduled }

// InspectionRecorded is published after a schedule was marked completed.
type InspectionRecorded struct {
	BaseEvent
	ScheduleID    uuid.UUID `json:"scheduleId"`
	ApplicationID uuid.UUID `json:"applicationId"`
	StageID       int64     `json:"stageId"`
	InspectorID   uuid.UUID `json:"inspectorId"`
	Comments      string    `json:"comments"`
}

func (e InspectionRecorded) EventName() string { return NameInspectionRecorded }

// =============================================================================
// Stage Progression Events
// =============================================================================

// StageAdvanced is published after an advancement commits.
type StageAdvanced struct {
	BaseEvent
	ApplicationID uuid.UUID `json:"applicationId"`
	FromStageID   int64     `json:"fromStageId"`
	ToStageID     int64     `json:"toStageId"`
	Trigger       string    `json:"trigger"`
}

func (e StageAdvanced) EventName() string { return NameStageAdvanced }

// ApplicationCompleted is published when the last stage completes.
type ApplicationCompleted struct {
	BaseEvent
	ApplicationID uuid.UUID `json:"applicationId"`
	LastStageID   int64     `json:"lastStageId"`
	Trigger       string    `json:"trigger"`
}

func (e ApplicationCompleted) EventName() string { return NameApplicationComplete }
