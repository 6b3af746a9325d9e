package transport

import (
	"permit_portal_backend/internal/stages/domain"

	"github.com/google/uuid"
)

// CreateApplicationRequest is the request body for registering an application.
type CreateApplicationRequest struct {
	ApplicantID *uuid.UUID `json:"applicantId,omitempty"`
	Reference   string     `json:"reference" validate:"notblank,max=100"`
}

// RequirementCompletionQuery filters requirement states by stage.
type RequirementCompletionQuery struct {
	StageID *int64 `form:"stageId" validate:"omitempty,gt=0"`
}

// SetRequirementStatusRequest is the operator's decision on one requirement.
type SetRequirementStatusRequest struct {
	Status domain.CompletionStatus `json:"status" validate:"required,oneof=pending completed rejected"`
	Notes  *string                 `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// AdvanceStageRequest is the request body for a manual advance.
type AdvanceStageRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
}

// StageResponse is a stage with its requirements.
type StageResponse struct {
	domain.Stage
	Requirements []domain.Requirement `json:"requirements"`
}

// ProgressResponse is the full progress view of one application.
type ProgressResponse struct {
	Application domain.Application     `json:"application"`
	Stages      []domain.StageProgress `json:"stages"`
}

// AdvanceResponse wraps one advancement outcome.
type AdvanceResponse struct {
	domain.AdvanceResult
}

// TriggerResponse reports what an operator action changed.
type TriggerResponse struct {
	Marked   []domain.RequirementCompletion `json:"marked"`
	Steps    []domain.AdvanceResult         `json:"steps"`
	Deferred bool                           `json:"deferred"`
}
