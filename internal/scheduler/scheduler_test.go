package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeAdvancer struct {
	mu    sync.Mutex
	calls []domain.AdvanceRequest
	err   error
}

func (f *fakeAdvancer) DrainAdvance(_ context.Context, req domain.AdvanceRequest) ([]domain.AdvanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return []domain.AdvanceResult{{Advanced: true}}, nil
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueReconcile(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

type staticLister []uuid.UUID

func (l staticLister) ListAdvanceCandidates(context.Context, int) ([]uuid.UUID, error) {
	return l, nil
}

func TestReconcileTaskHandlerDrainsAdvancement(t *testing.T) {
	adv := &fakeAdvancer{}
	w := newWorker(adv, nil)
	id := uuid.New()

	task, err := NewReconcileApplicationTask(id)
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if err := w.handleReconcileApplication(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(adv.calls) != 1 {
		t.Fatalf("expected one drain, got %d", len(adv.calls))
	}
	if adv.calls[0].ApplicationID != id || adv.calls[0].Trigger != domain.TriggerReconcile {
		t.Fatalf("unexpected request %+v", adv.calls[0])
	}
}

func TestReconcileTaskHandlerSkipsRetryOnBadPayload(t *testing.T) {
	w := newWorker(&fakeAdvancer{}, nil)
	err := w.handleReconcileApplication(context.Background(), asynq.NewTask(TaskReconcileApplication, []byte(`{"applicationId":"nope"}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestReconcileTaskHandlerRetryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
	}{
		{name: "transient is retried", err: apperr.Transient("busy", errors.New("locked")), skipRetry: false},
		{name: "invariant is not retried", err: apperr.Invariant("two stages in progress"), skipRetry: true},
		{name: "deleted application is not retried", err: apperr.NotFound("application not found"), skipRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorker(&fakeAdvancer{err: tt.err}, nil)
			task, _ := NewReconcileApplicationTask(uuid.New())
			err := w.handleReconcileApplication(context.Background(), task)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tt.skipRetry {
				t.Fatalf("SkipRetry = %v, want %v (err %v)", got, tt.skipRetry, err)
			}
		})
	}
}

func TestSweepEnqueuesEveryCandidate(t *testing.T) {
	ids := staticLister{uuid.New(), uuid.New(), uuid.New()}
	enq := &fakeEnqueuer{}
	adv := &fakeAdvancer{}
	s := NewReconcileSweep(ids, enq, adv, nil, 0, 0)

	if n := s.sweep(context.Background()); n != 3 {
		t.Fatalf("expected 3 candidates, got %d", n)
	}
	if len(enq.ids) != 3 {
		t.Fatalf("expected 3 enqueued, got %d", len(enq.ids))
	}
	if len(adv.calls) != 0 {
		t.Fatalf("advancer must not run when tasks are queued")
	}
}

func TestSweepDrainsInProcessWithoutQueue(t *testing.T) {
	ids := staticLister{uuid.New(), uuid.New()}
	adv := &fakeAdvancer{}
	s := NewReconcileSweep(ids, nil, adv, nil, 0, 0)

	s.sweep(context.Background())
	if len(adv.calls) != 2 {
		t.Fatalf("expected 2 drains, got %d", len(adv.calls))
	}
}
