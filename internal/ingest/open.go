package ingest

import (
	"fmt"

	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// OpenDeduper returns a redis-backed deduper, or one that lets every event
// through when REDIS_URL is empty. The returned func closes the client.
func OpenDeduper(cfg config.IngestConfig, log *logger.Logger) (Deduper, func(), error) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; event de-duplication disabled")
		return noDedupe{}, func() {}, nil
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	return NewRedisDeduper(client, cfg.GetEventDedupeTTL()), func() { _ = client.Close() }, nil
}

// OpenForwarder dials the broker for publishing stage outcomes.
// It returns a nil forwarder when AMQP_URL is empty.
func OpenForwarder(cfg config.IngestConfig, log *logger.Logger) (*Forwarder, func(), error) {
	if cfg.GetAMQPURL() == "" {
		return nil, func() {}, nil
	}
	conn, err := amqp.Dial(cfg.GetAMQPURL())
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareExchange(ch, cfg.GetAMQPExchange()); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	closeFn := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	return NewForwarder(ch, cfg.GetAMQPExchange(), log), closeFn, nil
}
