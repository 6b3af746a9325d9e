package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTryAdvanceWaitsForMandatoryRequirements(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)

	require.Equal(t, domain.ProgressInProgress, f.statuses(t, appID)["Submission"])

	res, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
	require.NoError(t, err)
	require.False(t, res.Advanced)

	f.complete(t, appID, "FormA")
	res, err = f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
	require.NoError(t, err)
	require.True(t, res.Advanced)
	require.False(t, res.Completed)
	require.Equal(t, "Submission", res.FromStage.Name)
	require.Equal(t, "Review", res.ToStage.Name)

	statuses := f.statuses(t, appID)
	require.Equal(t, domain.ProgressCompleted, statuses["Submission"])
	require.Equal(t, domain.ProgressInProgress, statuses["Review"])

	res, err = f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
	require.NoError(t, err)
	require.False(t, res.Advanced)

	// optional requirements never gate
	f.complete(t, appID, "ReportY")
	res, err = f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
	require.NoError(t, err)
	require.False(t, res.Advanced)
}

func TestTryAdvanceCompletesLastStage(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)

	completed := make(chan events.ApplicationCompleted, 1)
	f.bus.Subscribe(events.NameApplicationComplete, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		completed <- e.(events.ApplicationCompleted)
		return nil
	}))

	f.complete(t, appID, "FormA", "ApprovalX")
	steps, err := f.svc.DrainAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID, Trigger: domain.TriggerAdmin})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.True(t, steps[1].Advanced)
	require.True(t, steps[1].Completed)
	require.Nil(t, steps[1].ToStage)

	app, err := f.svc.GetApplication(ctx, appID)
	require.NoError(t, err)
	require.Equal(t, domain.ApplicationCompleted, app.Status)

	f.bus.Wait()
	e := <-completed
	require.Equal(t, appID, e.ApplicationID)
	require.Equal(t, f.stage(t, "Review").ID, e.LastStageID)

	res, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
	require.NoError(t, err)
	require.False(t, res.Advanced)
}

func TestTryAdvanceConcurrentCallersAdvanceOnce(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	appID := f.submitted(t)
	f.completeStage(t, appID, f.stage(t, "Application Submission").ID)

	const callers = 16
	var advanced atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
			if err != nil {
				errs <- err
				return
			}
			if res.Advanced {
				advanced.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, advanced.Load())
	statuses := f.statuses(t, appID)
	require.Equal(t, domain.ProgressCompleted, statuses["Application Submission"])
	require.Equal(t, domain.ProgressInProgress, statuses["Document Verification"])

	history, err := f.svc.GetTransitionHistory(ctx, appID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestTryAdvanceGatingProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	f := newFixture(t, "")
	ctx := context.Background()

	for range 20 {
		appID := f.submitted(t)
		current, err := f.svc.GetCurrentStage(ctx, appID)
		require.NoError(t, err)

		var mandatory []domain.Requirement
		for _, r := range f.svc.Catalog().Requirements(current.ID) {
			if r.IsMandatory {
				mandatory = append(mandatory, r)
			}
		}
		all := true
		for _, r := range mandatory {
			if rng.IntN(2) == 0 {
				all = false
				continue
			}
			f.complete(t, appID, r.Name)
		}

		res, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
		require.NoError(t, err)
		require.Equal(t, all, res.Advanced)
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	appID := f.submitted(t)

	for _, st := range f.svc.Catalog().Stages()[:5] {
		f.completeStage(t, appID, st.ID)
		res, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
		require.NoError(t, err)
		require.True(t, res.Advanced)

		again, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
		require.NoError(t, err)
		require.False(t, again.Advanced)
	}

	history, err := f.svc.GetTransitionHistory(ctx, appID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	prev := 0
	for _, tr := range history {
		from, ok := f.svc.Catalog().Stage(tr.FromStageID)
		require.True(t, ok)
		require.Greater(t, from.OrderNumber, prev)
		prev = from.OrderNumber
		require.NotNil(t, tr.ToStageID)
		to, _ := f.svc.Catalog().Stage(*tr.ToStageID)
		require.Equal(t, from.OrderNumber+1, to.OrderNumber)
	}
}

func TestAdvanceStageManuallyBypassesRequirements(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)
	admin := uuid.New()
	notes := "  unblocked by <b>admin</b> "

	res, err := f.svc.AdvanceStageManually(ctx, domain.AdvanceRequest{
		ApplicationID: appID,
		CompletedBy:   uuid.NullUUID{UUID: admin, Valid: true},
		Notes:         &notes,
	})
	require.NoError(t, err)
	require.True(t, res.Advanced)

	rows, err := f.svc.GetProgress(ctx, appID)
	require.NoError(t, err)
	first := rows[0].Progress
	require.Equal(t, domain.ProgressCompleted, first.Status)
	require.Equal(t, admin, first.CompletedBy.UUID)
	require.NotNil(t, first.Notes)
	require.Equal(t, "unblocked by admin", *first.Notes)

	history, err := f.svc.GetTransitionHistory(ctx, appID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, domain.TriggerManual, history[0].Trigger)
	require.Equal(t, admin, history[0].Actor.UUID)
}

func TestAdvanceStageManuallyUnknownApplication(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	_, err := f.svc.AdvanceStageManually(context.Background(), domain.AdvanceRequest{ApplicationID: uuid.New()})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTryAdvanceMissingApplicationIsInvariant(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	_, err := f.svc.TryAdvance(context.Background(), domain.AdvanceRequest{ApplicationID: uuid.New()})
	require.True(t, apperr.Is(err, apperr.KindInvariant))
}

func TestTryAdvanceBeforeSubmission(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	app, err := f.svc.CreateApplication(ctx, uuid.NullUUID{}, "BP-7")
	require.NoError(t, err)

	res, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: app.ID})
	require.NoError(t, err)
	require.False(t, res.Advanced)
}

func TestTryAdvanceDetectsMissingProgressRow(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	app, err := f.svc.CreateApplication(ctx, uuid.NullUUID{}, "BP-8")
	require.NoError(t, err)

	// point at a stage without creating progress rows
	require.NoError(t, f.store.SetCurrentStage(ctx, app.ID, f.svc.Catalog().First().ID, app.CreatedAt))

	_, err = f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: app.ID})
	require.True(t, apperr.Is(err, apperr.KindInvariant))
}

func TestTryAdvancePublishesStageAdvanced(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)

	got := make(chan events.StageAdvanced, 1)
	f.bus.Subscribe(events.NameStageAdvanced, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		got <- e.(events.StageAdvanced)
		return nil
	}))

	f.complete(t, appID, "FormA")
	_, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID, Trigger: domain.TriggerDocument})
	require.NoError(t, err)

	f.bus.Wait()
	e := <-got
	require.Equal(t, f.stage(t, "Submission").ID, e.FromStageID)
	require.Equal(t, f.stage(t, "Review").ID, e.ToStageID)
	require.Equal(t, string(domain.TriggerDocument), e.Trigger)
}
