package triggers

import (
	"context"
	"log/slog"
	"strings"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
)

// OnPaymentCompleted marks the payment requirements a settled payment covers.
//
// Plan payments cover the fee requirements of the nearest general stage at
// or after the current one. A consolidated stage payment, one without a
// description or described as covering all inspection stages, covers every
// payment requirement of the inspection phase from the current stage on, so
// one event may complete several stages. Any other stage payment covers the
// fees of the single inspection-phase stage its description names.
func (a *Adapter) OnPaymentCompleted(ctx context.Context, e events.PaymentCompleted) (Outcome, error) {
	var out Outcome
	if err := a.validate(e); err != nil {
		return out, err
	}
	_, current, err := a.currentStage(ctx, e.ApplicationID)
	if err != nil {
		return out, err
	}

	catalog := a.engine.Catalog()
	var targets []domain.Requirement
	switch e.PaymentType {
	case events.PaymentTypePlan:
		targets = planPaymentTargets(catalog, current, e.StageDescription)
	case events.PaymentTypeStage:
		targets, out.Match = stagePaymentTargets(catalog, current, e.StageDescription)
	}
	if len(targets) == 0 {
		a.log.Info("payment matched no pending requirement",
			slog.String("application_id", e.ApplicationID.String()),
			slog.String("payment_id", e.PaymentID),
			slog.String("payment_type", string(e.PaymentType)),
		)
		return out, nil
	}

	writes := completedWrites(e.ApplicationID, targets, e.PaymentID, nullActor(), nil)
	if err := a.apply(ctx, domain.TriggerPayment, e.ApplicationID, writes, &out); err != nil {
		return out, err
	}
	if e.PaymentType == events.PaymentTypePlan {
		a.promote(ctx, e.ApplicationID,
			[]domain.ApplicationStatus{domain.ApplicationSubmitted, domain.ApplicationPending},
			domain.ApplicationInReview)
	}
	return out, nil
}

// consolidatedMarker identifies a stage payment that settles every
// remaining inspection stage.
const consolidatedMarker = "all inspection stages"

func isConsolidated(description *string) bool {
	if description == nil || strings.TrimSpace(*description) == "" {
		return true
	}
	return strings.Contains(strings.ToLower(*description), consolidatedMarker)
}

// stagePaymentTargets resolves the payment requirements a stage payment
// settles and how they were chosen. A description matching no stage falls
// back to the current stage.
func stagePaymentTargets(catalog *domain.Catalog, current domain.Stage, description *string) ([]domain.Requirement, string) {
	var phase []domain.Stage
	for _, st := range catalog.From(current.ID) {
		if st.Kind.IsInspectionPhase() {
			phase = append(phase, st)
		}
	}
	if isConsolidated(description) {
		var targets []domain.Requirement
		for _, st := range phase {
			targets = append(targets, catalog.RequirementsOfType(st.ID, domain.RequirementPayment)...)
		}
		return targets, "consolidated"
	}

	st, kind := domain.MatchStage(phase, *description)
	if kind == domain.NoMatch {
		if !current.Kind.IsInspectionPhase() {
			return nil, kind.String()
		}
		st = current
	}
	return catalog.RequirementsOfType(st.ID, domain.RequirementPayment), kind.String()
}

func planPaymentTargets(catalog *domain.Catalog, current domain.Stage, description *string) []domain.Requirement {
	for _, st := range catalog.From(current.ID) {
		if st.Kind != domain.StageGeneral {
			continue
		}
		fees := catalog.RequirementsOfType(st.ID, domain.RequirementPayment)
		if len(fees) == 0 {
			continue
		}
		if description != nil {
			if m := domain.MatchRequirements(fees, *description); m.Kind != domain.NoMatch {
				return m.Requirements
			}
		}
		return fees
	}
	return nil
}
