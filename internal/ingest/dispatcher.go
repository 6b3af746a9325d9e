package ingest

import (
	"context"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/validator"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("permit_portal_backend/internal/ingest")

// Dispatcher validates trigger events, drops redeliveries and publishes the
// rest synchronously so the caller learns whether the triggers succeeded.
type Dispatcher struct {
	bus    events.Bus
	val    *validator.Validator
	dedupe Deduper
	log    *logger.Logger
}

// NewDispatcher creates a dispatcher. A nil dedupe processes every event.
func NewDispatcher(bus events.Bus, val *validator.Validator, dedupe Deduper, log *logger.Logger) *Dispatcher {
	if val == nil {
		val = validator.New()
	}
	if dedupe == nil {
		dedupe = noDedupe{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{bus: bus, val: val, dedupe: dedupe, log: log}
}

// Dispatch reports duplicate=true when the event was already processed.
func (d *Dispatcher) Dispatch(ctx context.Context, event events.Event) (duplicate bool, err error) {
	ctx, span := tracer.Start(ctx, "ingest.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("event.name", event.EventName()))

	if err := d.val.Struct(event); err != nil {
		return false, apperr.Validation("invalid "+event.EventName()+" event").WithDetails(err.Error())
	}

	key := ""
	if dd, ok := event.(events.Deduplicated); ok {
		key = event.EventName() + ":" + dd.DedupeKey()
		first, err := d.dedupe.Claim(ctx, key)
		if err != nil {
			// Triggers are idempotent; an unavailable dedupe store only costs a re-run.
			d.log.Warn("event dedupe unavailable", "event", event.EventName(), "error", err)
		} else if !first {
			span.SetAttributes(attribute.Bool("event.duplicate", true))
			d.log.Info("duplicate event dropped", "event", event.EventName(), "key", key)
			return true, nil
		}
	}

	if err := d.bus.PublishSync(ctx, event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if key != "" {
			if relErr := d.dedupe.Release(context.WithoutCancel(ctx), key); relErr != nil {
				d.log.Warn("event dedupe release failed", "key", key, "error", relErr)
			}
		}
		return false, err
	}
	return false, nil
}

// Permanent reports whether redelivering the event cannot succeed.
func Permanent(err error) bool {
	switch apperr.GetKind(err) {
	case apperr.KindValidation, apperr.KindBadRequest, apperr.KindNotFound,
		apperr.KindPrecondition, apperr.KindConflict, apperr.KindInvariant:
		return true
	}
	return false
}
