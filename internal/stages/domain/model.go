package domain

import (
	"time"

	"github.com/google/uuid"
)

// Stage is one ordered phase of the application lifecycle.
type Stage struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	OrderNumber int       `json:"orderNumber"`
	Description string    `json:"description"`
	Kind        StageKind `json:"kind"`
}

// Requirement is a condition attached to a stage. Only mandatory
// requirements gate advancement.
type Requirement struct {
	ID          int64           `json:"id"`
	StageID     int64           `json:"stageId"`
	Type        RequirementType `json:"type"`
	Name        string          `json:"name"`
	IsMandatory bool            `json:"isMandatory"`
	Description string          `json:"description"`
}

// Application is the root entity owning progress and completion rows.
type Application struct {
	ID             uuid.UUID         `json:"id"`
	ApplicantID    uuid.NullUUID     `json:"applicantId"`
	Reference      string            `json:"reference"`
	Status         ApplicationStatus `json:"status"`
	CurrentStageID *int64            `json:"currentStageId"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Progress is the state of one stage for one application.
type Progress struct {
	ApplicationID uuid.UUID      `json:"applicationId"`
	StageID       int64          `json:"stageId"`
	Status        ProgressStatus `json:"status"`
	StartedAt     *time.Time     `json:"startedAt"`
	CompletedAt   *time.Time     `json:"completedAt"`
	CompletedBy   uuid.NullUUID  `json:"completedBy"`
	Notes         *string        `json:"notes"`
}

// StageProgress is a progress row joined with its stage.
type StageProgress struct {
	Stage    Stage    `json:"stage"`
	Progress Progress `json:"progress"`
}

// RequirementCompletion records whether a requirement is satisfied for an
// application. ReferenceID points at the payment, document or schedule that
// satisfied it; it is informational only.
type RequirementCompletion struct {
	ApplicationID uuid.UUID        `json:"applicationId"`
	RequirementID int64            `json:"requirementId"`
	Status        CompletionStatus `json:"status"`
	CompletedAt   *time.Time       `json:"completedAt"`
	VerifiedBy    uuid.NullUUID    `json:"verifiedBy"`
	Notes         *string          `json:"notes"`
	ReferenceID   *string          `json:"referenceId"`
}

// PendingCompletion is the value reported for a requirement with no row yet.
func PendingCompletion(applicationID uuid.UUID, requirementID int64) RequirementCompletion {
	return RequirementCompletion{
		ApplicationID: applicationID,
		RequirementID: requirementID,
		Status:        CompletionPending,
	}
}

// CompletionWrite is an upsert of one requirement completion.
type CompletionWrite struct {
	ApplicationID uuid.UUID
	RequirementID int64
	Status        CompletionStatus
	VerifiedBy    uuid.NullUUID
	Notes         *string
	ReferenceID   *string
}

// RequirementState pairs a requirement with its completion for display.
type RequirementState struct {
	Requirement Requirement           `json:"requirement"`
	Completion  RequirementCompletion `json:"completion"`
}

// StageCompletion is the gating check result for one stage.
type StageCompletion struct {
	StageID  int64         `json:"stageId"`
	Complete bool          `json:"complete"`
	Missing  []Requirement `json:"missing"`
}

// AdvanceResult reports the outcome of one advancement attempt.
// Completed is set when the last stage finished; Advanced is then also true.
type AdvanceResult struct {
	Advanced  bool   `json:"advanced"`
	Completed bool   `json:"completed"`
	FromStage *Stage `json:"fromStage,omitempty"`
	ToStage   *Stage `json:"toStage,omitempty"`
}

// AdvanceRequest carries the optional attribution for an advancement.
type AdvanceRequest struct {
	ApplicationID uuid.UUID
	CompletedBy   uuid.NullUUID
	Notes         *string
	Trigger       Trigger
}

// Transition is one committed stage advancement.
type Transition struct {
	ID            int64         `json:"id"`
	ApplicationID uuid.UUID     `json:"applicationId"`
	FromStageID   int64         `json:"fromStageId"`
	ToStageID     *int64        `json:"toStageId"`
	Trigger       Trigger       `json:"trigger"`
	Actor         uuid.NullUUID `json:"actor"`
	Notes         *string       `json:"notes"`
	OccurredAt    time.Time     `json:"occurredAt"`
}
