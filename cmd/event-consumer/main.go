package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/ingest"
	"permit_portal_backend/internal/inspections"
	"permit_portal_backend/internal/stages"
	"permit_portal_backend/internal/storage"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/observability"
	"permit_portal_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if cfg.GetAMQPURL() == "" {
		panic("AMQP_URL is required for the event consumer")
	}

	log := logger.New(cfg.Env)
	log.Info("starting event consumer", "env", cfg.Env, "queue", cfg.GetAMQPQueue())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, cfg, log)
	defer func() { _ = shutdownTracing(context.Background()) }()

	var store *storage.Storage
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		s, err := storage.Open(ctx, cfg)
		if err != nil {
			return err
		}
		store = s
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer store.Close()

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	stagesModule, err := stages.NewModule(ctx, store.Stages, cfg, eventBus, val, log)
	if err != nil {
		log.Error("failed to initialize stages module", "error", err)
		panic("failed to initialize stages module: " + err.Error())
	}
	// Subscribes the inspection completion handler; routes are not served here.
	_ = inspections.NewModule(store.Inspections, stagesModule.Service(), eventBus, val, log)

	dedupe, closeDedupe, err := ingest.OpenDeduper(cfg, log)
	if err != nil {
		log.Error("failed to initialize event de-duplication", "error", err)
		panic("failed to initialize event de-duplication: " + err.Error())
	}
	defer closeDedupe()

	var consumer *ingest.Consumer
	if err := withRetry(ctx, log, "broker connection", 5, 2*time.Second, func() error {
		c, err := ingest.Dial(cfg, ingest.NewDispatcher(eventBus, val, dedupe, log), log)
		if err != nil {
			return err
		}
		consumer = c
		return nil
	}); err != nil {
		log.Error("failed to connect to broker", "error", err)
		panic("failed to connect to broker: " + err.Error())
	}
	defer func() { _ = consumer.Close() }()

	ingest.NewForwarder(consumer.Channel(), cfg.GetAMQPExchange(), log).Subscribe(eventBus)

	if err := consumer.Run(ctx); err != nil {
		log.Error("event consumer stopped", "error", err)
	}
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
