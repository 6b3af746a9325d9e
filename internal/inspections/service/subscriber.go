package service

import (
	"context"
	"fmt"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/inspections/repository"
	"permit_portal_backend/platform/apperr"

	"github.com/google/uuid"
)

// Subscribe handles inspector reports arriving on the bus.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe(events.NameInspectionCompleted, s)
}

// Handle completes the schedule named by an InspectionCompleted event.
//
// A report for a schedule that is already completed is a redelivery: the
// stored report is published again so a requirement write that failed the
// first time is retried. Subscriber failures are returned so the delivery
// is not acknowledged.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.InspectionCompleted)
	if !ok {
		return fmt.Errorf("inspections: unexpected event %s", event.EventName())
	}
	schedule, err := s.complete(ctx, e.ScheduleID, e.InspectorID, e.Comments, "inspections.Handle")
	if apperr.Is(err, apperr.KindConflict) {
		schedule, err = s.alreadyCompleted(ctx, e, err)
	}
	if err != nil {
		return err
	}
	return s.publish(ctx, recorded(schedule))
}

func (s *Service) alreadyCompleted(ctx context.Context, e events.InspectionCompleted, conflict error) (repository.Schedule, error) {
	schedule, err := s.repo.Get(ctx, e.ScheduleID)
	if err != nil {
		return repository.Schedule{}, fmt.Errorf("inspections.Handle: %w", err)
	}
	if schedule.Status != repository.StatusCompleted {
		return repository.Schedule{}, conflict
	}
	if e.InspectorID != uuid.Nil && e.InspectorID != schedule.InspectorID {
		return repository.Schedule{}, conflict
	}
	return schedule, nil
}
