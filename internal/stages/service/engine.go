package service

import (
	"context"
	"errors"
	"fmt"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/sanitize"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TryAdvance completes the application's current stage and starts the next
// one when every mandatory requirement of the current stage is completed.
// It is safe to call concurrently: exactly one caller observes Advanced for
// a given stage.
func (s *Service) TryAdvance(ctx context.Context, req domain.AdvanceRequest) (domain.AdvanceResult, error) {
	return s.advance(ctx, req, true)
}

// AdvanceStageManually advances the current stage without checking its
// requirements. Administrators use it to unblock applications.
func (s *Service) AdvanceStageManually(ctx context.Context, req domain.AdvanceRequest) (domain.AdvanceResult, error) {
	if _, err := s.store.GetApplication(ctx, req.ApplicationID); err != nil {
		return domain.AdvanceResult{}, notFoundOr(err, "application not found", "stages.AdvanceStageManually")
	}
	if req.Trigger == "" {
		req.Trigger = domain.TriggerManual
	}
	return s.advance(ctx, req, false)
}

// DrainAdvance calls TryAdvance until the application stops advancing, so a
// single write that satisfies several consecutive stages moves through all
// of them. It returns every committed step.
func (s *Service) DrainAdvance(ctx context.Context, req domain.AdvanceRequest) ([]domain.AdvanceResult, error) {
	var steps []domain.AdvanceResult
	for range len(s.catalog.Stages()) {
		res, err := s.TryAdvance(ctx, req)
		if err != nil {
			return steps, err
		}
		if !res.Advanced {
			break
		}
		steps = append(steps, res)
		if res.Completed {
			break
		}
		// attribution belongs to the first step only
		req.CompletedBy.Valid = false
		req.Notes = nil
	}
	return steps, nil
}

func (s *Service) advance(ctx context.Context, req domain.AdvanceRequest, gated bool) (domain.AdvanceResult, error) {
	const op = "stages.TryAdvance"
	if req.Trigger == "" {
		req.Trigger = domain.TriggerDirect
	}
	req.Notes = sanitize.TextPtr(req.Notes)

	ctx, span := tracer.Start(ctx, "stages.advance", trace.WithAttributes(
		attribute.String("application.id", req.ApplicationID.String()),
		attribute.String("stage.trigger", string(req.Trigger)),
		attribute.Bool("stage.gated", gated),
	))
	defer span.End()

	res, err := s.advanceOnce(ctx, req, gated)
	if errors.Is(err, repository.ErrConflict) {
		span.AddEvent("retry after conflict")
		res, err = s.advanceOnce(ctx, req, gated)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, repository.ErrConflict) {
			return domain.AdvanceResult{}, apperr.Transient("stage advance conflicted, retry", err).WithOp(op)
		}
		var domainErr *apperr.Error
		if errors.As(err, &domainErr) {
			return domain.AdvanceResult{}, err
		}
		return domain.AdvanceResult{}, fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.Bool("stage.advanced", res.Advanced), attribute.Bool("stage.completed", res.Completed))

	if res.Advanced {
		s.publishAdvance(ctx, req, res)
	}
	return res, nil
}

func (s *Service) advanceOnce(ctx context.Context, req domain.AdvanceRequest, gated bool) (domain.AdvanceResult, error) {
	const op = "stages.TryAdvance"
	appID := req.ApplicationID
	var res domain.AdvanceResult

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		res = domain.AdvanceResult{}

		app, err := q.LockApplication(ctx, appID)
		if errors.Is(err, repository.ErrNotFound) {
			return s.invariant(op, appID, "application does not exist")
		}
		if err != nil {
			return err
		}
		if app.Status == domain.ApplicationCompleted || app.CurrentStageID == nil {
			return nil
		}

		current, ok := s.catalog.Stage(*app.CurrentStageID)
		if !ok {
			return s.invariant(op, appID, "current stage %d does not exist", *app.CurrentStageID)
		}
		progress, err := q.GetProgress(ctx, appID, current.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return s.invariant(op, appID, "no progress row for current stage %d", current.ID)
		}
		if err != nil {
			return err
		}
		if progress.Status != domain.ProgressInProgress {
			// another caller already advanced past this stage
			return nil
		}
		n, err := q.CountInProgress(ctx, appID)
		if err != nil {
			return err
		}
		if n > 1 {
			return s.invariant(op, appID, "%d stages in progress", n)
		}

		if gated {
			missing, err := q.MissingMandatory(ctx, appID, current.ID)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return nil
			}
		}

		now := s.now()
		if err := q.CompleteStage(ctx, appID, current.ID, now, req.CompletedBy, req.Notes); err != nil {
			return err
		}

		from := current
		res.Advanced = true
		res.FromStage = &from
		transition := domain.Transition{
			ApplicationID: appID,
			FromStageID:   current.ID,
			Trigger:       req.Trigger,
			Actor:         req.CompletedBy,
			Notes:         req.Notes,
			OccurredAt:    now,
		}

		if next, ok := s.catalog.Next(current.ID); ok {
			if err := q.StartStage(ctx, appID, next.ID, now); err != nil {
				return err
			}
			if err := q.SetCurrentStage(ctx, appID, next.ID, now); err != nil {
				return err
			}
			to := next
			res.ToStage = &to
			transition.ToStageID = &to.ID
		} else {
			if err := q.SetApplicationStatus(ctx, appID, domain.ApplicationCompleted, now); err != nil {
				return err
			}
			res.Completed = true
		}
		return q.InsertTransition(ctx, transition)
	})
	if err != nil {
		return domain.AdvanceResult{}, err
	}
	return res, nil
}

func (s *Service) publishAdvance(ctx context.Context, req domain.AdvanceRequest, res domain.AdvanceResult) {
	appID := req.ApplicationID
	if res.Completed {
		s.log.StageTransition(appID.String(), res.FromStage.ID, 0, true, string(req.Trigger))
		if s.eventBus != nil {
			s.eventBus.Publish(ctx, events.ApplicationCompleted{
				BaseEvent:     events.NewBaseEvent(),
				ApplicationID: appID,
				LastStageID:   res.FromStage.ID,
				Trigger:       string(req.Trigger),
			})
		}
		return
	}
	s.log.StageTransition(appID.String(), res.FromStage.ID, res.ToStage.ID, false, string(req.Trigger))
	if s.eventBus != nil {
		s.eventBus.Publish(ctx, events.StageAdvanced{
			BaseEvent:     events.NewBaseEvent(),
			ApplicationID: appID,
			FromStageID:   res.FromStage.ID,
			ToStageID:     res.ToStage.ID,
			Trigger:       string(req.Trigger),
		})
	}
}
