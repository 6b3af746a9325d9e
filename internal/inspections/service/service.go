// Package service books inspections in stage order and drives the
// schedule state machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/inspections/repository"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/sanitize"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var tracer = otel.Tracer("permit_portal_backend/internal/inspections")

// Applications is the read access the guard needs from the stages module.
type Applications interface {
	Catalog() *domain.Catalog
	GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error)
}

// ScheduleRequest books an inspector for one inspection stage.
type ScheduleRequest struct {
	ApplicationID uuid.UUID
	StageID       int64
	InspectorID   uuid.UUID
	Date          string
	Time          string
}

// Service manages inspection schedules.
type Service struct {
	repo     repository.Repository
	apps     Applications
	eventBus events.Bus
	log      *logger.Logger
	now      func() time.Time
}

// New creates an inspections service.
func New(repo repository.Repository, apps Applications, eventBus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:     repo,
		apps:     apps,
		eventBus: eventBus,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleInspection books an inspection after checking that the preceding
// inspection stage, if any, has a completed inspection.
func (s *Service) ScheduleInspection(ctx context.Context, req ScheduleRequest) (repository.Schedule, error) {
	ctx, span := tracer.Start(ctx, "inspections.schedule", trace.WithAttributes(
		attribute.String("application.id", req.ApplicationID.String()),
		attribute.Int64("stage.id", req.StageID),
	))
	defer span.End()

	slot, err := parseSlot(req.Date, req.Time)
	if err != nil {
		return repository.Schedule{}, err
	}
	if _, err := s.apps.GetApplication(ctx, req.ApplicationID); err != nil {
		return repository.Schedule{}, err
	}

	now := s.now()
	schedule := repository.Schedule{
		ID:            uuid.New(),
		ApplicationID: req.ApplicationID,
		StageID:       req.StageID,
		InspectorID:   req.InspectorID,
		ScheduledFor:  slot,
		Status:        repository.StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.repo.Book(ctx, schedule, func(ctx context.Context, tx repository.Lookup) error {
		return s.checkOrder(ctx, tx, req.ApplicationID, req.StageID)
	})
	switch {
	case errors.Is(err, repository.ErrApplicationNotFound):
		return repository.Schedule{}, apperr.NotFound("application not found")
	case apperr.GetKind(err) != apperr.KindUnknown:
		span.RecordError(err)
		return repository.Schedule{}, err
	case err != nil:
		return repository.Schedule{}, fmt.Errorf("inspections.ScheduleInspection: %w", err)
	}

	_ = s.publish(ctx, events.InspectionScheduled{
		BaseEvent:     events.NewBaseEvent(),
		ScheduleID:    schedule.ID,
		ApplicationID: schedule.ApplicationID,
		StageID:       schedule.StageID,
		InspectorID:   schedule.InspectorID,
		ScheduledFor:  schedule.ScheduledFor,
	})
	return schedule, nil
}

// checkOrder enforces that inspections are booked in stage order. It runs
// inside the booking transaction.
func (s *Service) checkOrder(ctx context.Context, tx repository.Lookup, applicationID uuid.UUID, stageID int64) error {
	order, previous, ok := s.apps.Catalog().InspectionOrder(stageID)
	if !ok {
		return apperr.Validation(fmt.Sprintf("stage %d is not an inspection stage", stageID))
	}
	if order == 1 {
		return nil
	}
	latest, err := tx.Latest(ctx, applicationID, previous.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return precedingIncomplete(previous)
	}
	if err != nil {
		return fmt.Errorf("inspections.checkOrder: %w", err)
	}
	if latest.Status != repository.StatusCompleted {
		return precedingIncomplete(previous)
	}
	return nil
}

func precedingIncomplete(previous *domain.Stage) error {
	return apperr.Precondition("preceding inspection stage incomplete").
		WithDetails(map[string]any{"stageId": previous.ID, "stage": previous.Name})
}

// CompleteInspection records the inspector's report. The stage's
// inspection requirements are completed by the event subscribers.
func (s *Service) CompleteInspection(ctx context.Context, id, inspectorID uuid.UUID, comments string) (repository.Schedule, error) {
	schedule, err := s.complete(ctx, id, inspectorID, comments, "inspections.CompleteInspection")
	if err != nil {
		return repository.Schedule{}, err
	}
	_ = s.publish(ctx, recorded(schedule))
	return schedule, nil
}

func (s *Service) complete(ctx context.Context, id, inspectorID uuid.UUID, comments, op string) (repository.Schedule, error) {
	now := s.now()
	change := repository.Change{
		Status:      repository.StatusCompleted,
		Comments:    sanitize.TextPtr(&comments),
		CompletedAt: &now,
		At:          now,
	}
	if inspectorID != uuid.Nil {
		change.InspectorID = &inspectorID
	}
	return s.update(ctx, id, change, op)
}

func recorded(schedule repository.Schedule) events.InspectionRecorded {
	var text string
	if schedule.Comments != nil {
		text = *schedule.Comments
	}
	return events.InspectionRecorded{
		BaseEvent:     events.NewBaseEvent(),
		ScheduleID:    schedule.ID,
		ApplicationID: schedule.ApplicationID,
		StageID:       schedule.StageID,
		InspectorID:   schedule.InspectorID,
		Comments:      text,
	}
}

// CancelInspection cancels a scheduled inspection.
func (s *Service) CancelInspection(ctx context.Context, id uuid.UUID) (repository.Schedule, error) {
	now := s.now()
	return s.update(ctx, id, repository.Change{Status: repository.StatusCancelled, At: now}, "inspections.CancelInspection")
}

// RescheduleInspection moves a scheduled inspection to a new slot.
func (s *Service) RescheduleInspection(ctx context.Context, id uuid.UUID, date, clock string) (repository.Schedule, error) {
	slot, err := parseSlot(date, clock)
	if err != nil {
		return repository.Schedule{}, err
	}
	change := repository.Change{Status: repository.StatusScheduled, ScheduledFor: &slot, At: s.now()}
	return s.update(ctx, id, change, "inspections.RescheduleInspection")
}

// GetSchedule returns one schedule.
func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (repository.Schedule, error) {
	schedule, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Schedule{}, apperr.NotFound("inspection schedule not found")
	}
	return schedule, err
}

// ListSchedules returns the application's schedules.
func (s *Service) ListSchedules(ctx context.Context, applicationID uuid.UUID) ([]repository.Schedule, error) {
	if _, err := s.apps.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return s.repo.ListForApplication(ctx, applicationID)
}

func (s *Service) update(ctx context.Context, id uuid.UUID, c repository.Change, op string) (repository.Schedule, error) {
	schedule, err := s.repo.Update(ctx, id, c)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return repository.Schedule{}, apperr.NotFound("inspection schedule not found").WithOp(op)
	case errors.Is(err, repository.ErrNotScheduled):
		current, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return repository.Schedule{}, getErr
		}
		return repository.Schedule{}, apperr.Conflict(fmt.Sprintf("inspection is already %s", current.Status)).WithOp(op)
	case err != nil:
		return repository.Schedule{}, fmt.Errorf("%s: %w", op, err)
	}
	return schedule, nil
}

// publish notifies subscribers synchronously. Stage progression failures
// are logged and returned; the schedule change stands either way.
func (s *Service) publish(ctx context.Context, event events.Event) error {
	if s.eventBus == nil {
		return nil
	}
	err := s.eventBus.PublishSync(ctx, event)
	if err != nil {
		s.log.WithContext(ctx).Warn("inspection event handler failed",
			slog.String("event", event.EventName()),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func parseSlot(date, clock string) (time.Time, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, apperr.Validation("date must be formatted as YYYY-MM-DD")
	}
	if clock == "" {
		return d.UTC(), nil
	}
	t, err := time.Parse(timeLayout, clock)
	if err != nil {
		return time.Time{}, apperr.Validation("time must be formatted as HH:MM")
	}
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}
