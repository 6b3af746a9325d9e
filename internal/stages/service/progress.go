package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/sanitize"

	"github.com/google/uuid"
)

// CreateApplication registers a draft application with no progress yet.
func (s *Service) CreateApplication(ctx context.Context, applicantID uuid.NullUUID, reference string) (domain.Application, error) {
	now := s.now()
	app := domain.Application{
		ID:          uuid.New(),
		ApplicantID: applicantID,
		Reference:   sanitize.Text(reference),
		Status:      domain.ApplicationDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return domain.Application{}, fmt.Errorf("stages.CreateApplication: %w", err)
	}
	return app, nil
}

// GetApplication returns an application.
func (s *Service) GetApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		return domain.Application{}, notFoundOr(err, "application not found", "stages.GetApplication")
	}
	return app, nil
}

// DeleteApplication removes an application with all its progress,
// completions, schedules and history.
func (s *Service) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteApplication(ctx, id); err != nil {
		return notFoundOr(err, "application not found", "stages.DeleteApplication")
	}
	return nil
}

// SubmitApplication moves a draft or pending application to submitted and
// initializes its progress in the same transaction.
func (s *Service) SubmitApplication(ctx context.Context, id uuid.UUID) (domain.Application, error) {
	const op = "stages.SubmitApplication"
	var app domain.Application
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		locked, err := q.LockApplication(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status != domain.ApplicationDraft && locked.Status != domain.ApplicationPending {
			return apperr.Conflict(fmt.Sprintf("application is %s and cannot be submitted", locked.Status))
		}
		if err := s.initialize(ctx, q, locked); err != nil {
			return err
		}
		now := s.now()
		if err := q.SetApplicationStatus(ctx, id, domain.ApplicationSubmitted, now); err != nil {
			return err
		}
		first := s.catalog.First().ID
		locked.Status = domain.ApplicationSubmitted
		locked.CurrentStageID = &first
		locked.UpdatedAt = now
		app = locked
		return nil
	})
	if err != nil {
		return domain.Application{}, s.wrapTxErr(err, op)
	}
	return app, nil
}

// InitializeProgress creates one pending progress row per stage, starts the
// first stage and points the application at it. It fails with a conflict
// when progress already exists.
func (s *Service) InitializeProgress(ctx context.Context, applicationID uuid.UUID) error {
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		app, err := q.LockApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		return s.initialize(ctx, q, app)
	})
	return s.wrapTxErr(err, "stages.InitializeProgress")
}

func (s *Service) initialize(ctx context.Context, q repository.Queries, app domain.Application) error {
	n, err := q.CountProgress(ctx, app.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperr.Conflict("application progress already initialized")
	}

	stages := s.catalog.Stages()
	ids := make([]int64, len(stages))
	for i, st := range stages {
		ids[i] = st.ID
	}
	if err := q.InsertPendingProgress(ctx, app.ID, ids); err != nil {
		return err
	}
	now := s.now()
	first := s.catalog.First()
	if err := q.StartStage(ctx, app.ID, first.ID, now); err != nil {
		return err
	}
	return q.SetCurrentStage(ctx, app.ID, first.ID, now)
}

// GetProgress returns the application's progress rows joined with their stages, in order.
func (s *Service) GetProgress(ctx context.Context, applicationID uuid.UUID) ([]domain.StageProgress, error) {
	const op = "stages.GetProgress"
	if _, err := s.store.GetApplication(ctx, applicationID); err != nil {
		return nil, notFoundOr(err, "application not found", op)
	}
	rows, err := s.store.ListProgress(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]domain.StageProgress, 0, len(rows))
	for _, p := range rows {
		st, ok := s.catalog.Stage(p.StageID)
		if !ok {
			return nil, s.invariant(op, applicationID, "progress references unknown stage %d", p.StageID)
		}
		out = append(out, domain.StageProgress{Stage: st, Progress: p})
	}
	return out, nil
}

// GetCurrentStage returns the stage the application currently points at.
func (s *Service) GetCurrentStage(ctx context.Context, applicationID uuid.UUID) (domain.Stage, error) {
	const op = "stages.GetCurrentStage"
	app, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Stage{}, notFoundOr(err, "application not found", op)
	}
	if app.CurrentStageID == nil {
		return domain.Stage{}, apperr.NotFound("application has not been submitted").WithOp(op)
	}
	st, ok := s.catalog.Stage(*app.CurrentStageID)
	if !ok {
		return domain.Stage{}, s.invariant(op, applicationID, "current stage %d does not exist", *app.CurrentStageID)
	}
	return st, nil
}

// PromoteStatus sets the application status to target when its current
// status is one of from. It reports whether the status changed.
func (s *Service) PromoteStatus(ctx context.Context, applicationID uuid.UUID, from []domain.ApplicationStatus, target domain.ApplicationStatus) (bool, error) {
	changed := false
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		app, err := q.LockApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if !slices.Contains(from, app.Status) {
			return nil
		}
		changed = true
		return q.SetApplicationStatus(ctx, applicationID, target, s.now())
	})
	if err != nil {
		return false, s.wrapTxErr(err, "stages.PromoteStatus")
	}
	return changed, nil
}

// GetTransitionHistory returns committed advancements in commit order.
func (s *Service) GetTransitionHistory(ctx context.Context, applicationID uuid.UUID) ([]domain.Transition, error) {
	if _, err := s.store.GetApplication(ctx, applicationID); err != nil {
		return nil, notFoundOr(err, "application not found", "stages.GetTransitionHistory")
	}
	return s.store.ListTransitions(ctx, applicationID)
}

// ListAdvanceCandidates returns applications that look ready to advance.
func (s *Service) ListAdvanceCandidates(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListAdvanceCandidates(ctx, limit)
}

func (s *Service) wrapTxErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var domainErr *apperr.Error
	switch {
	case errors.As(err, &domainErr):
		if domainErr.Op == "" {
			domainErr.Op = op
		}
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound("application not found").WithOp(op)
	case errors.Is(err, repository.ErrConflict):
		return apperr.Transient("concurrent update, retry", err).WithOp(op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
