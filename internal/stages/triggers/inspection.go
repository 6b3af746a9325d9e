package triggers

import (
	"context"
	"fmt"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"

	"github.com/google/uuid"
)

// OnInspectionRecorded marks the inspection requirements of the inspected
// stage with the inspector as verifier.
func (a *Adapter) OnInspectionRecorded(ctx context.Context, e events.InspectionRecorded) (Outcome, error) {
	var out Outcome
	reqs := a.engine.Catalog().RequirementsOfType(e.StageID, domain.RequirementInspection)
	if len(reqs) == 0 {
		return out, apperr.Validation(fmt.Sprintf("stage %d has no inspection requirement", e.StageID))
	}

	var notes *string
	if e.Comments != "" {
		notes = &e.Comments
	}
	inspector := uuid.NullUUID{UUID: e.InspectorID, Valid: e.InspectorID != uuid.Nil}
	writes := completedWrites(e.ApplicationID, reqs, e.ScheduleID.String(), inspector, notes)
	err := a.apply(ctx, domain.TriggerInspection, e.ApplicationID, writes, &out)
	return out, err
}

// OnInspectionScheduled completes the booking requirement when the
// application is in the inspection scheduling stage. Bookings made later in
// the inspection phase change nothing.
func (a *Adapter) OnInspectionScheduled(ctx context.Context, e events.InspectionScheduled) (Outcome, error) {
	var out Outcome
	_, current, err := a.currentStage(ctx, e.ApplicationID)
	if err != nil {
		return out, err
	}
	if current.Kind != domain.StageInspectionScheduling {
		return out, nil
	}

	reqs := a.engine.Catalog().RequirementsOfType(current.ID, domain.RequirementInspection)
	writes := completedWrites(e.ApplicationID, reqs, e.ScheduleID.String(), nullActor(), nil)
	err = a.apply(ctx, domain.TriggerScheduling, e.ApplicationID, writes, &out)
	return out, err
}

func nullActor() uuid.NullUUID {
	return uuid.NullUUID{}
}
