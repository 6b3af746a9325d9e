// Package ingest turns upstream notifications into trigger events on the
// in-process bus. Notifications arrive as broker deliveries or webhook calls.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/platform/apperr"
)

// ErrUnknownEvent is returned for routing keys with no trigger event.
var ErrUnknownEvent = errors.New("unknown event")

// InboundEvents lists the event names accepted from upstream systems.
var InboundEvents = []string{
	events.NamePaymentCompleted,
	events.NameDocumentCompliant,
	events.NameInspectionCompleted,
}

// Decode parses body into the trigger event named by name.
func Decode(name string, body []byte) (events.Event, error) {
	switch name {
	case events.NamePaymentCompleted:
		return decodeInto[events.PaymentCompleted](name, body)
	case events.NameDocumentCompliant:
		return decodeInto[events.DocumentCompliant](name, body)
	case events.NameInspectionCompleted:
		return decodeInto[events.InspectionCompleted](name, body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decodeInto[T events.Event](name string, body []byte) (events.Event, error) {
	var e T
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, apperr.Validation("malformed " + name + " payload").WithDetails(err.Error())
	}
	return stamp(e), nil
}

// stamp fills the occurrence time for payloads that did not carry one.
func stamp(e events.Event) events.Event {
	if !e.OccurredAt().IsZero() {
		return e
	}
	base := events.NewBaseEvent()
	switch v := e.(type) {
	case events.PaymentCompleted:
		v.BaseEvent = base
		return v
	case events.DocumentCompliant:
		v.BaseEvent = base
		return v
	case events.InspectionCompleted:
		v.BaseEvent = base
		return v
	}
	return e
}
