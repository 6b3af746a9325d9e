package triggers

import (
	"context"
	"log/slog"
	"slices"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
)

var defaultDocumentTerms = []string{"compliance", "document"}

// OnDocumentCompliant marks the current-stage requirements whose names match
// the compliant document. Exact name matches win over substring matches;
// every requirement matching at the best strength is marked.
func (a *Adapter) OnDocumentCompliant(ctx context.Context, e events.DocumentCompliant) (Outcome, error) {
	var out Outcome
	if err := a.validate(e); err != nil {
		return out, err
	}
	_, current, err := a.currentStage(ctx, e.ApplicationID)
	if err != nil {
		return out, err
	}

	candidates := slices.DeleteFunc(a.engine.Catalog().Requirements(current.ID), func(r domain.Requirement) bool {
		return r.Type == domain.RequirementPayment || r.Type == domain.RequirementInspection
	})

	terms := defaultDocumentTerms
	if e.DocumentName != nil && *e.DocumentName != "" {
		terms = []string{*e.DocumentName}
	}
	match := domain.MatchRequirements(candidates, terms...)
	out.Match = match.Kind.String()
	if match.Kind == domain.NoMatch {
		a.log.Info("compliant document matched no requirement",
			slog.String("application_id", e.ApplicationID.String()),
			slog.String("document_id", e.DocumentID),
			slog.Int64("stage_id", current.ID),
		)
		return out, nil
	}

	writes := completedWrites(e.ApplicationID, match.Requirements, e.DocumentID, nullActor(), nil)
	if err := a.apply(ctx, domain.TriggerDocument, e.ApplicationID, writes, &out); err != nil {
		return out, err
	}
	a.promote(ctx, e.ApplicationID,
		[]domain.ApplicationStatus{domain.ApplicationDraft, domain.ApplicationPending},
		domain.ApplicationApproved)
	return out, nil
}
