// Package domain holds the stage progression model: the stage catalog,
// per-application progress, requirement completion, and the closed status
// vocabularies shared by every layer of the stages module.
package domain

import (
	"fmt"
	"slices"

	"permit_portal_backend/platform/apperr"
)

// RequirementType classifies what satisfies a requirement.
type RequirementType string

const (
	RequirementForm       RequirementType = "form"
	RequirementDocument   RequirementType = "document"
	RequirementApproval   RequirementType = "approval"
	RequirementPayment    RequirementType = "payment"
	RequirementInspection RequirementType = "inspection"
)

var requirementTypes = []RequirementType{
	RequirementForm, RequirementDocument, RequirementApproval, RequirementPayment, RequirementInspection,
}

// ProgressStatus is the state of one stage for one application.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressRejected   ProgressStatus = "rejected"
)

var progressStatuses = []ProgressStatus{ProgressPending, ProgressInProgress, ProgressCompleted, ProgressRejected}

// CompletionStatus is the state of one requirement for one application.
type CompletionStatus string

const (
	CompletionPending   CompletionStatus = "pending"
	CompletionCompleted CompletionStatus = "completed"
	CompletionRejected  CompletionStatus = "rejected"
)

var completionStatuses = []CompletionStatus{CompletionPending, CompletionCompleted, CompletionRejected}

// ApplicationStatus is the overall status of a permit application.
type ApplicationStatus string

const (
	ApplicationDraft     ApplicationStatus = "draft"
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationSubmitted ApplicationStatus = "submitted"
	ApplicationInReview  ApplicationStatus = "in_review"
	ApplicationApproved  ApplicationStatus = "approved"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationCompleted ApplicationStatus = "completed"
)

var applicationStatuses = []ApplicationStatus{
	ApplicationDraft, ApplicationPending, ApplicationSubmitted, ApplicationInReview,
	ApplicationApproved, ApplicationRejected, ApplicationCompleted,
}

// StageKind tells the inspection guard and the payment adapters which
// stages belong to the inspection phase.
type StageKind string

const (
	StageGeneral              StageKind = "general"
	StageInspectionScheduling StageKind = "inspection_scheduling"
	StageInspection           StageKind = "inspection"
)

var stageKinds = []StageKind{StageGeneral, StageInspectionScheduling, StageInspection}

// IsInspectionPhase reports whether the stage belongs to the inspection sub-phase.
func (k StageKind) IsInspectionPhase() bool {
	return k == StageInspectionScheduling || k == StageInspection
}

// Trigger names what caused a stage transition.
type Trigger string

const (
	TriggerDirect     Trigger = "direct"
	TriggerPayment    Trigger = "payment"
	TriggerDocument   Trigger = "document"
	TriggerInspection Trigger = "inspection"
	TriggerScheduling Trigger = "scheduling"
	TriggerAdmin      Trigger = "admin"
	TriggerManual     Trigger = "manual"
	TriggerReconcile  Trigger = "reconcile"
)

func parseEnum[T ~string](field, raw string, allowed []T) (T, error) {
	v := T(raw)
	if slices.Contains(allowed, v) {
		return v, nil
	}
	var zero T
	return zero, apperr.Validation(fmt.Sprintf("invalid %s %q", field, raw)).
		WithDetails(map[string]any{"field": field, "allowed": allowed})
}

// ParseRequirementType validates a requirement type.
func ParseRequirementType(raw string) (RequirementType, error) {
	return parseEnum("requirement type", raw, requirementTypes)
}

// ParseProgressStatus validates a progress status.
func ParseProgressStatus(raw string) (ProgressStatus, error) {
	return parseEnum("progress status", raw, progressStatuses)
}

// ParseCompletionStatus validates a requirement completion status.
func ParseCompletionStatus(raw string) (CompletionStatus, error) {
	return parseEnum("completion status", raw, completionStatuses)
}

// ParseApplicationStatus validates an application status.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	return parseEnum("application status", raw, applicationStatuses)
}

// ParseStageKind validates a stage kind. Empty means general.
func ParseStageKind(raw string) (StageKind, error) {
	if raw == "" {
		return StageGeneral, nil
	}
	return parseEnum("stage kind", raw, stageKinds)
}
