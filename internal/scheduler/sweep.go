package scheduler

import (
	"context"
	"time"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepInterval  = 5 * time.Minute
	defaultSweepBatchSize = 200
	sweepFanOut           = 8
)

// CandidateLister finds applications whose current stage looks complete.
type CandidateLister interface {
	ListAdvanceCandidates(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// ReconcileSweep periodically retries advancement that a trigger left
// behind, through asynq when a client is configured and in process otherwise.
type ReconcileSweep struct {
	lister    CandidateLister
	enqueuer  ReconcileEnqueuer
	advancer  Advancer
	log       *logger.Logger
	interval  time.Duration
	batchSize int
}

func NewReconcileSweep(lister CandidateLister, enqueuer ReconcileEnqueuer, advancer Advancer, log *logger.Logger, interval time.Duration, batchSize int) *ReconcileSweep {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileSweep{
		lister:    lister,
		enqueuer:  enqueuer,
		advancer:  advancer,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (s *ReconcileSweep) Run(ctx context.Context) {
	if s == nil || s.lister == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep returns the number of applications handed on.
func (s *ReconcileSweep) sweep(ctx context.Context) int {
	ids, err := s.lister.ListAdvanceCandidates(ctx, s.batchSize)
	if err != nil {
		s.log.Warn("reconcile sweep: list candidates failed", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepFanOut)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.reconcile(gctx, id); err != nil {
				s.log.Warn("reconcile sweep: application skipped", "application_id", id.String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("reconcile sweep complete", "candidates", len(ids))
	return len(ids)
}

func (s *ReconcileSweep) reconcile(ctx context.Context, id uuid.UUID) error {
	if s.enqueuer != nil {
		return s.enqueuer.EnqueueReconcile(ctx, id)
	}
	_, err := s.advancer.DrainAdvance(ctx, domain.AdvanceRequest{ApplicationID: id, Trigger: domain.TriggerReconcile})
	return err
}
