package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/platform/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the slice of *amqp.Channel the forwarder needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Forwarder republishes stage outcomes on the broker so other systems can
// follow an application's progress.
type Forwarder struct {
	pub      Publisher
	exchange string
	log      *logger.Logger
}

func NewForwarder(pub Publisher, exchange string, log *logger.Logger) *Forwarder {
	if log == nil {
		log = logger.Nop()
	}
	return &Forwarder{pub: pub, exchange: exchange, log: log}
}

// Subscribe registers the forwarder for stage outcome events.
func (f *Forwarder) Subscribe(bus events.Bus) {
	bus.Subscribe(events.NameStageAdvanced, f)
	bus.Subscribe(events.NameApplicationComplete, f)
}

func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	switch event.(type) {
	case events.StageAdvanced, events.ApplicationCompleted:
	default:
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventName(), err)
	}
	err = f.pub.PublishWithContext(ctx, f.exchange, event.EventName(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt(),
		Type:         event.EventName(),
		Body:         body,
	})
	if err != nil {
		f.log.Error("failed to forward event", "event", event.EventName(), "error", err)
		return err
	}
	return nil
}
