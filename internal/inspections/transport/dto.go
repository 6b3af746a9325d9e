package transport

import "github.com/google/uuid"

// ScheduleInspectionRequest is the request body for booking an inspection.
type ScheduleInspectionRequest struct {
	ApplicationID uuid.UUID `json:"applicationId" validate:"required"`
	StageID       int64     `json:"stageId" validate:"required,gt=0"`
	InspectorID   uuid.UUID `json:"inspectorId" validate:"required"`
	Date          string    `json:"date" validate:"required,datetime=2006-01-02"`
	Time          string    `json:"time" validate:"omitempty,datetime=15:04"`
}

// CompleteInspectionRequest is the inspector's report.
type CompleteInspectionRequest struct {
	Comments string `json:"comments" validate:"max=2000"`
}

// RescheduleInspectionRequest moves a booking to a new slot.
type RescheduleInspectionRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"omitempty,datetime=15:04"`
}
