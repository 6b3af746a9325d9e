// Package triggers translates external events into requirement completions
// followed by an advancement attempt. Adapters hold no state of their own.
package triggers

import (
	"context"
	"fmt"
	"log/slog"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/validator"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("permit_portal_backend/internal/stages/triggers")

// Engine is the part of the stages service the adapters drive.
type Engine interface {
	Catalog() *domain.Catalog
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
	UpsertCompletions(ctx context.Context, writes []domain.CompletionWrite) ([]domain.RequirementCompletion, error)
	DrainAdvance(ctx context.Context, req domain.AdvanceRequest) ([]domain.AdvanceResult, error)
	PromoteStatus(ctx context.Context, applicationID uuid.UUID, from []domain.ApplicationStatus, target domain.ApplicationStatus) (bool, error)
}

// Outcome reports what an event changed.
type Outcome struct {
	Match    string                         `json:"match,omitempty"`
	Marked   []domain.RequirementCompletion `json:"marked"`
	Steps    []domain.AdvanceResult         `json:"steps"`
	Deferred bool                           `json:"deferred"`
}

// Adapter maps inbound events onto the stages engine.
type Adapter struct {
	engine Engine
	val    *validator.Validator
	log    *logger.Logger
}

// New creates a trigger adapter.
func New(engine Engine, val *validator.Validator, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.Nop()
	}
	if val == nil {
		val = validator.New()
	}
	return &Adapter{engine: engine, val: val, log: log}
}

// Subscribe registers the adapter for every trigger event on the bus.
func (a *Adapter) Subscribe(bus events.Bus) {
	bus.Subscribe(events.NamePaymentCompleted, a)
	bus.Subscribe(events.NameDocumentCompliant, a)
	bus.Subscribe(events.NameInspectionRecorded, a)
	bus.Subscribe(events.NameInspectionScheduled, a)
}

// Handle routes bus events to the matching adapter method.
func (a *Adapter) Handle(ctx context.Context, event events.Event) error {
	var err error
	switch e := event.(type) {
	case events.PaymentCompleted:
		_, err = a.OnPaymentCompleted(ctx, e)
	case events.DocumentCompliant:
		_, err = a.OnDocumentCompliant(ctx, e)
	case events.InspectionRecorded:
		_, err = a.OnInspectionRecorded(ctx, e)
	case events.InspectionScheduled:
		_, err = a.OnInspectionScheduled(ctx, e)
	default:
		return fmt.Errorf("triggers: unexpected event %s", event.EventName())
	}
	return err
}

// currentStage loads the application and its current stage. Applications
// that were never submitted have no stage to satisfy.
func (a *Adapter) currentStage(ctx context.Context, applicationID uuid.UUID) (domain.Application, domain.Stage, error) {
	app, err := a.engine.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Application{}, domain.Stage{}, err
	}
	if app.CurrentStageID == nil {
		return app, domain.Stage{}, apperr.Precondition("application has not been submitted")
	}
	st, ok := a.engine.Catalog().Stage(*app.CurrentStageID)
	if !ok {
		return app, domain.Stage{}, apperr.Invariant(fmt.Sprintf("current stage %d does not exist", *app.CurrentStageID))
	}
	return app, st, nil
}

// apply writes the completions and drains advancement. A failed advance
// keeps the completions; the reconciliation sweep retries it.
func (a *Adapter) apply(ctx context.Context, trigger domain.Trigger, applicationID uuid.UUID, writes []domain.CompletionWrite, out *Outcome) error {
	ctx, span := tracer.Start(ctx, "stages.trigger", trace.WithAttributes(
		attribute.String("application.id", applicationID.String()),
		attribute.String("stage.trigger", string(trigger)),
		attribute.Int("requirements.count", len(writes)),
	))
	defer span.End()

	if len(writes) > 0 {
		marked, err := a.engine.UpsertCompletions(ctx, writes)
		if err != nil {
			span.RecordError(err)
			return err
		}
		out.Marked = marked
	}

	steps, err := a.engine.DrainAdvance(ctx, domain.AdvanceRequest{ApplicationID: applicationID, Trigger: trigger})
	out.Steps = steps
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if apperr.Is(err, apperr.KindInvariant) {
		return err
	}
	out.Deferred = true
	a.log.AdvanceDeferred(string(trigger), applicationID.String(), err)
	return nil
}

func completedWrites(applicationID uuid.UUID, reqs []domain.Requirement, reference string, verifiedBy uuid.NullUUID, notes *string) []domain.CompletionWrite {
	writes := make([]domain.CompletionWrite, 0, len(reqs))
	for _, r := range reqs {
		w := domain.CompletionWrite{
			ApplicationID: applicationID,
			RequirementID: r.ID,
			Status:        domain.CompletionCompleted,
			VerifiedBy:    verifiedBy,
			Notes:         notes,
		}
		if reference != "" {
			ref := reference
			w.ReferenceID = &ref
		}
		writes = append(writes, w)
	}
	return writes
}

func (a *Adapter) promote(ctx context.Context, applicationID uuid.UUID, from []domain.ApplicationStatus, target domain.ApplicationStatus) {
	changed, err := a.engine.PromoteStatus(ctx, applicationID, from, target)
	if err != nil {
		a.log.Warn("application status not updated",
			slog.String("application_id", applicationID.String()),
			slog.String("target", string(target)),
			slog.String("error", err.Error()),
		)
		return
	}
	if changed {
		a.log.Info("application status updated",
			slog.String("application_id", applicationID.String()),
			slog.String("status", string(target)),
		)
	}
}

func (a *Adapter) validate(e events.Event) error {
	if err := a.val.Struct(e); err != nil {
		return apperr.Validation("invalid "+e.EventName()+" event").WithDetails(err.Error())
	}
	return nil
}
