package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"permit_portal_backend/internal/events"
	apphttp "permit_portal_backend/internal/http"
	"permit_portal_backend/internal/http/router"
	"permit_portal_backend/internal/ingest"
	"permit_portal_backend/internal/inspections"
	"permit_portal_backend/internal/stages"
	"permit_portal_backend/internal/storage"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/db"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/observability"
	"permit_portal_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, cfg, log)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	dedupe, closeDedupe, err := ingest.OpenDeduper(cfg, log)
	if err != nil {
		log.Error("failed to initialize event de-duplication", "error", err)
		panic("failed to initialize event de-duplication: " + err.Error())
	}
	defer closeDedupe()

	forwarder, closeForwarder, err := ingest.OpenForwarder(cfg, log)
	if err != nil {
		log.Warn("stage outcome forwarding disabled", "error", err)
	} else {
		defer closeForwarder()
		if forwarder != nil {
			forwarder.Subscribe(eventBus)
		}
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	stagesModule, err := stages.NewModule(ctx, store.Stages, cfg, eventBus, val, log)
	if err != nil {
		log.Error("failed to initialize stages module", "error", err)
		panic("failed to initialize stages module: " + err.Error())
	}
	inspectionsModule := inspections.NewModule(store.Inspections, stagesModule.Service(), eventBus, val, log)
	ingestModule := ingest.NewModule(ingest.NewDispatcher(eventBus, val, dedupe, log))

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   store.Health,
		EventBus: eventBus,
		Modules: []apphttp.Module{
			stagesModule,
			inspectionsModule,
			ingestModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
