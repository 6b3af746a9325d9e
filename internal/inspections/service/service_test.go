package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/inspections/repository"
	"permit_portal_backend/internal/stages/domain"
	stagerepo "permit_portal_backend/internal/stages/repository"
	stagesvc "permit_portal_backend/internal/stages/service"
	"permit_portal_backend/internal/stages/triggers"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *Service
	stages *stagesvc.Service
	bus    *events.InMemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the engine the trigger adapter writes through.
func newFixtureWith(t *testing.T, wrap func(triggers.Engine) triggers.Engine) *fixture {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := stagerepo.NewSQLite(ctx, conn)
	require.NoError(t, err)
	def, err := domain.DefaultCatalogDefinition()
	require.NoError(t, err)
	_, err = store.SeedCatalog(ctx, def)
	require.NoError(t, err)
	catalog, err := stagerepo.LoadCatalog(ctx, store)
	require.NoError(t, err)

	repo, err := repository.NewSQLite(ctx, conn)
	require.NoError(t, err)

	bus := events.NewInMemoryBus(nil)
	stages := stagesvc.New(store, catalog, bus, nil)
	var engine triggers.Engine = stages
	if wrap != nil {
		engine = wrap(stages)
	}
	triggers.New(engine, nil, nil).Subscribe(bus)

	svc := New(repo, stages, bus, nil)
	svc.Subscribe(bus)
	return &fixture{svc: svc, stages: stages, bus: bus}
}

func (f *fixture) submitted(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	app, err := f.stages.CreateApplication(ctx, uuid.NullUUID{}, "BP-55")
	require.NoError(t, err)
	_, err = f.stages.SubmitApplication(ctx, app.ID)
	require.NoError(t, err)
	return app.ID
}

func (f *fixture) advanceTo(t *testing.T, appID uuid.UUID, name string) {
	t.Helper()
	ctx := context.Background()
	for {
		st, err := f.stages.GetCurrentStage(ctx, appID)
		require.NoError(t, err)
		if st.Name == name {
			return
		}
		_, err = f.stages.AdvanceStageManually(ctx, domain.AdvanceRequest{ApplicationID: appID})
		require.NoError(t, err)
	}
}

func (f *fixture) inspectionStage(t *testing.T, order int) domain.Stage {
	t.Helper()
	stages := f.stages.Catalog().InspectionStages()
	require.GreaterOrEqual(t, len(stages), order)
	return stages[order-1]
}

func (f *fixture) book(t *testing.T, appID uuid.UUID, stageID int64) (repository.Schedule, error) {
	t.Helper()
	return f.svc.ScheduleInspection(context.Background(), ScheduleRequest{
		ApplicationID: appID,
		StageID:       stageID,
		InspectorID:   uuid.New(),
		Date:          "2026-11-03",
		Time:          "09:30",
	})
}

func TestScheduleFirstInspectionAlwaysAllowed(t *testing.T) {
	f := newFixture(t)
	appID := f.submitted(t)

	s, err := f.book(t, appID, f.inspectionStage(t, 1).ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusScheduled, s.Status)
	require.Equal(t, time.Date(2026, 11, 3, 9, 30, 0, 0, time.UTC), s.ScheduledFor)
}

func TestScheduleRequiresCompletedPrecedingInspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)
	foundation := f.inspectionStage(t, 1)
	structural := f.inspectionStage(t, 2)

	_, err := f.book(t, appID, structural.ID)
	require.True(t, apperr.Is(err, apperr.KindPrecondition))

	first, err := f.book(t, appID, foundation.ID)
	require.NoError(t, err)
	_, err = f.book(t, appID, structural.ID)
	require.True(t, apperr.Is(err, apperr.KindPrecondition))

	_, err = f.svc.CompleteInspection(ctx, first.ID, uuid.Nil, "ok")
	require.NoError(t, err)
	_, err = f.book(t, appID, structural.ID)
	require.NoError(t, err)
}

func TestScheduleUsesMostRecentPrecedingSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)
	foundation := f.inspectionStage(t, 1)

	first, err := f.book(t, appID, foundation.ID)
	require.NoError(t, err)
	_, err = f.svc.CompleteInspection(ctx, first.ID, uuid.Nil, "")
	require.NoError(t, err)

	// a newer booking that is still open hides the completed one
	_, err = f.book(t, appID, foundation.ID)
	require.NoError(t, err)
	_, err = f.book(t, appID, f.inspectionStage(t, 2).ID)
	require.True(t, apperr.Is(err, apperr.KindPrecondition))
}

func TestScheduleRejectsNonInspectionStage(t *testing.T) {
	f := newFixture(t)
	appID := f.submitted(t)

	_, err := f.book(t, appID, f.stages.Catalog().First().ID)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestScheduleRejectsBadSlot(t *testing.T) {
	f := newFixture(t)
	appID := f.submitted(t)

	_, err := f.svc.ScheduleInspection(context.Background(), ScheduleRequest{
		ApplicationID: appID, StageID: f.inspectionStage(t, 1).ID, Date: "03/11/2026",
	})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestScheduleStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)

	s, err := f.book(t, appID, f.inspectionStage(t, 1).ID)
	require.NoError(t, err)

	moved, err := f.svc.RescheduleInspection(ctx, s.ID, "2026-11-10", "14:00")
	require.NoError(t, err)
	require.Equal(t, repository.StatusScheduled, moved.Status)
	require.Equal(t, time.Date(2026, 11, 10, 14, 0, 0, 0, time.UTC), moved.ScheduledFor)

	done, err := f.svc.CompleteInspection(ctx, s.ID, uuid.Nil, "passed")
	require.NoError(t, err)
	require.Equal(t, repository.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = f.svc.CompleteInspection(ctx, s.ID, uuid.Nil, "again")
	require.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = f.svc.CancelInspection(ctx, s.ID)
	require.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = f.svc.RescheduleInspection(ctx, s.ID, "2026-12-01", "")
	require.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.svc.CancelInspection(ctx, uuid.New())
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestBookingInSchedulingStageAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)
	f.advanceTo(t, appID, "Inspection Scheduling")

	for _, r := range f.stages.Catalog().RequirementsOfType(f.mustCurrent(t, appID).ID, domain.RequirementPayment) {
		_, err := f.stages.UpsertCompletion(ctx, domain.CompletionWrite{
			ApplicationID: appID, RequirementID: r.ID, Status: domain.CompletionCompleted,
		})
		require.NoError(t, err)
	}

	_, err := f.book(t, appID, f.inspectionStage(t, 1).ID)
	require.NoError(t, err)
	require.Equal(t, "Foundation Inspection", f.mustCurrent(t, appID).Name)
}

func TestInspectionCompletedEventRecordsRequirement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)
	f.advanceTo(t, appID, "Foundation Inspection")
	foundation := f.inspectionStage(t, 1)

	s, err := f.book(t, appID, foundation.ID)
	require.NoError(t, err)

	report := f.stages.Catalog().RequirementsOfType(foundation.ID, domain.RequirementDocument)[0]
	_, err = f.stages.UpsertCompletion(ctx, domain.CompletionWrite{
		ApplicationID: appID, RequirementID: report.ID, Status: domain.CompletionCompleted,
	})
	require.NoError(t, err)

	inspector := uuid.New()
	err = f.bus.PublishSync(ctx, events.InspectionCompleted{ScheduleID: s.ID, InspectorID: inspector, Comments: "rebar ok"})
	require.NoError(t, err)

	got, err := f.svc.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusCompleted, got.Status)
	require.Equal(t, inspector, got.InspectorID)

	visit := f.stages.Catalog().RequirementsOfType(foundation.ID, domain.RequirementInspection)[0]
	c, err := f.stages.GetCompletion(ctx, appID, visit.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CompletionCompleted, c.Status)
	require.Equal(t, inspector, c.VerifiedBy.UUID)
	require.Equal(t, "Structural Inspection", f.mustCurrent(t, appID).Name)
}

type flakyEngine struct {
	triggers.Engine
	failures atomic.Int32
}

func (f *flakyEngine) UpsertCompletions(ctx context.Context, writes []domain.CompletionWrite) ([]domain.RequirementCompletion, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("database is locked")
	}
	return f.Engine.UpsertCompletions(ctx, writes)
}

func TestRedeliveredReportRetriesFailedRequirementWrite(t *testing.T) {
	flaky := &flakyEngine{}
	flaky.failures.Store(1)
	f := newFixtureWith(t, func(e triggers.Engine) triggers.Engine {
		flaky.Engine = e
		return flaky
	})
	ctx := context.Background()
	appID := f.submitted(t)
	f.advanceTo(t, appID, "Foundation Inspection")
	foundation := f.inspectionStage(t, 1)

	s, err := f.book(t, appID, foundation.ID)
	require.NoError(t, err)
	report := f.stages.Catalog().RequirementsOfType(foundation.ID, domain.RequirementDocument)[0]
	_, err = f.stages.UpsertCompletion(ctx, domain.CompletionWrite{
		ApplicationID: appID, RequirementID: report.ID, Status: domain.CompletionCompleted,
	})
	require.NoError(t, err)

	inspector := uuid.New()
	delivery := events.InspectionCompleted{ScheduleID: s.ID, InspectorID: inspector, Comments: "rebar ok"}
	visit := f.stages.Catalog().RequirementsOfType(foundation.ID, domain.RequirementInspection)[0]

	// the schedule commits but the requirement write fails
	err = f.svc.Handle(ctx, delivery)
	require.Error(t, err)
	require.False(t, apperr.Is(err, apperr.KindConflict))
	got, err := f.svc.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusCompleted, got.Status)
	c, err := f.stages.GetCompletion(ctx, appID, visit.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CompletionPending, c.Status)

	// the redelivery replays the stored report
	require.NoError(t, f.svc.Handle(ctx, delivery))
	c, err = f.stages.GetCompletion(ctx, appID, visit.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CompletionCompleted, c.Status)
	require.Equal(t, inspector, c.VerifiedBy.UUID)
	require.Equal(t, "Structural Inspection", f.mustCurrent(t, appID).Name)

	require.NoError(t, f.svc.Handle(ctx, delivery))
	require.Equal(t, "Structural Inspection", f.mustCurrent(t, appID).Name)

	other := delivery
	other.InspectorID = uuid.New()
	err = f.svc.Handle(ctx, other)
	require.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestReportForCancelledScheduleConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)

	s, err := f.book(t, appID, f.inspectionStage(t, 1).ID)
	require.NoError(t, err)
	_, err = f.svc.CancelInspection(ctx, s.ID)
	require.NoError(t, err)

	err = f.svc.Handle(ctx, events.InspectionCompleted{ScheduleID: s.ID, InspectorID: uuid.New()})
	require.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestListSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appID := f.submitted(t)
	_, err := f.book(t, appID, f.inspectionStage(t, 1).ID)
	require.NoError(t, err)

	list, err := f.svc.ListSchedules(ctx, appID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = f.svc.ListSchedules(ctx, uuid.New())
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func (f *fixture) mustCurrent(t *testing.T, appID uuid.UUID) domain.Stage {
	t.Helper()
	st, err := f.stages.GetCurrentStage(context.Background(), appID)
	require.NoError(t, err)
	return st
}
