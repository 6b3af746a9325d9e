package scheduler

import (
	"context"
	"fmt"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Advancer drains stage advancement for an application.
type Advancer interface {
	DrainAdvance(ctx context.Context, req domain.AdvanceRequest) ([]domain.AdvanceResult, error)
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	advancer Advancer
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, advancer Advancer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(advancer, log)
	w.server = server
	return w, nil
}

func newWorker(advancer Advancer, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	w := &Worker{
		mux:      asynq.NewServeMux(),
		advancer: advancer,
		log:      log,
	}
	w.mux.HandleFunc(TaskReconcileApplication, w.handleReconcileApplication)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleReconcileApplication(ctx context.Context, task *asynq.Task) error {
	applicationID, err := ParseReconcileApplicationPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	steps, err := w.advancer.DrainAdvance(ctx, domain.AdvanceRequest{
		ApplicationID: applicationID,
		Trigger:       domain.TriggerReconcile,
	})
	switch {
	case apperr.Is(err, apperr.KindInvariant), apperr.Is(err, apperr.KindNotFound):
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	case err != nil:
		return err
	}
	if len(steps) > 0 {
		w.log.Info("reconciled application", "application_id", applicationID.String(), "steps", len(steps))
	}
	return nil
}
