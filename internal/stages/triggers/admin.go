package triggers

import (
	"context"

	"permit_portal_backend/internal/stages/domain"

	"github.com/google/uuid"
)

// SetRequirementStatus is an operator's direct decision on one requirement.
type SetRequirementStatus struct {
	ApplicationID uuid.UUID
	RequirementID int64
	Status        domain.CompletionStatus
	Notes         *string
	VerifiedBy    uuid.NullUUID
}

// SetRequirementStatus writes the requirement status without name matching.
// Completing a requirement attempts advancement; resetting one never moves
// the application backwards.
func (a *Adapter) SetRequirementStatus(ctx context.Context, cmd SetRequirementStatus) (Outcome, error) {
	var out Outcome
	writes := []domain.CompletionWrite{{
		ApplicationID: cmd.ApplicationID,
		RequirementID: cmd.RequirementID,
		Status:        cmd.Status,
		VerifiedBy:    cmd.VerifiedBy,
		Notes:         cmd.Notes,
	}}
	if cmd.Status != domain.CompletionCompleted {
		marked, err := a.engine.UpsertCompletions(ctx, writes)
		out.Marked = marked
		return out, err
	}
	err := a.apply(ctx, domain.TriggerAdmin, cmd.ApplicationID, writes, &out)
	return out, err
}
