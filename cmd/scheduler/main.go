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
	"permit_portal_backend/internal/scheduler"
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

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

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

	forwarder, closeForwarder, err := ingest.OpenForwarder(cfg, log)
	if err != nil {
		log.Warn("stage outcome forwarding disabled", "error", err)
	} else {
		defer closeForwarder()
		if forwarder != nil {
			forwarder.Subscribe(eventBus)
		}
	}

	stagesModule, err := stages.NewModule(ctx, store.Stages, cfg, eventBus, validator.New(), log)
	if err != nil {
		log.Error("failed to initialize stages module", "error", err)
		panic("failed to initialize stages module: " + err.Error())
	}
	svc := stagesModule.Service()

	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; reconciling in process")
		scheduler.NewReconcileSweep(svc, nil, svc, log, cfg.GetReconcileInterval(), cfg.GetReconcileBatchSize()).Run(ctx)
		eventBus.Wait()
		return
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}
	defer func() { _ = client.Close() }()

	sweep := scheduler.NewReconcileSweep(svc, client, svc, log, cfg.GetReconcileInterval(), cfg.GetReconcileBatchSize())
	go sweep.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, svc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
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
