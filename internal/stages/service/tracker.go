package service

import (
	"context"
	"errors"
	"fmt"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/sanitize"

	"github.com/google/uuid"
)

// ListStages returns the catalog in order.
func (s *Service) ListStages() []domain.Stage {
	return s.catalog.Stages()
}

// RequirementsFor returns the requirements of a stage.
func (s *Service) RequirementsFor(stageID int64) ([]domain.Requirement, error) {
	if _, ok := s.catalog.Stage(stageID); !ok {
		return nil, apperr.NotFound(fmt.Sprintf("stage %d not found", stageID))
	}
	return s.catalog.Requirements(stageID), nil
}

// GetCompletion returns the completion of a requirement, or a pending value
// when none was recorded.
func (s *Service) GetCompletion(ctx context.Context, applicationID uuid.UUID, requirementID int64) (domain.RequirementCompletion, error) {
	if _, ok := s.catalog.Requirement(requirementID); !ok {
		return domain.RequirementCompletion{}, apperr.Validation(fmt.Sprintf("unknown requirement %d", requirementID))
	}
	c, err := s.store.GetCompletion(ctx, applicationID, requirementID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.PendingCompletion(applicationID, requirementID), nil
	}
	return c, err
}

// UpsertCompletion records the status of one requirement. Repeated writes
// update the same row.
func (s *Service) UpsertCompletion(ctx context.Context, w domain.CompletionWrite) (domain.RequirementCompletion, error) {
	out, err := s.UpsertCompletions(ctx, []domain.CompletionWrite{w})
	if err != nil {
		return domain.RequirementCompletion{}, err
	}
	return out[0], nil
}

// UpsertCompletions records several completions in one transaction.
func (s *Service) UpsertCompletions(ctx context.Context, writes []domain.CompletionWrite) ([]domain.RequirementCompletion, error) {
	const op = "stages.UpsertCompletions"
	if len(writes) == 0 {
		return nil, nil
	}
	for i := range writes {
		if err := s.validateWrite(&writes[i]); err != nil {
			return nil, err
		}
	}

	var out []domain.RequirementCompletion
	write := func() error {
		out = out[:0]
		return s.store.InTx(ctx, func(q repository.Queries) error {
			seen := make(map[uuid.UUID]bool, 1)
			for _, w := range writes {
				if seen[w.ApplicationID] {
					continue
				}
				if _, err := q.GetApplication(ctx, w.ApplicationID); err != nil {
					return err
				}
				seen[w.ApplicationID] = true
			}
			now := s.now()
			for _, w := range writes {
				c, err := q.UpsertCompletion(ctx, w, now)
				if err != nil {
					return err
				}
				out = append(out, c)
			}
			return nil
		})
	}

	err := write()
	if errors.Is(err, repository.ErrConflict) {
		err = write()
	}
	if errors.Is(err, repository.ErrConflict) {
		return nil, apperr.Transient("requirement update conflicted, retry", err).WithOp(op)
	}
	if err != nil {
		return nil, notFoundOr(err, "application not found", op)
	}
	return out, nil
}

func (s *Service) validateWrite(w *domain.CompletionWrite) error {
	if _, ok := s.catalog.Requirement(w.RequirementID); !ok {
		return apperr.Validation(fmt.Sprintf("unknown requirement %d", w.RequirementID))
	}
	if _, err := domain.ParseCompletionStatus(string(w.Status)); err != nil {
		return err
	}
	if w.ApplicationID == uuid.Nil {
		return apperr.Validation("applicationId is required")
	}
	w.Notes = sanitize.TextPtr(w.Notes)
	return nil
}

// AreAllMandatorySatisfied reports whether every mandatory requirement of
// the stage is completed for the application.
func (s *Service) AreAllMandatorySatisfied(ctx context.Context, applicationID uuid.UUID, stageID int64) (bool, error) {
	result, err := s.CheckStageCompletion(ctx, applicationID, stageID)
	if err != nil {
		return false, err
	}
	return result.Complete, nil
}

// CheckStageCompletion lists the mandatory requirements still missing for a stage.
func (s *Service) CheckStageCompletion(ctx context.Context, applicationID uuid.UUID, stageID int64) (domain.StageCompletion, error) {
	if _, ok := s.catalog.Stage(stageID); !ok {
		return domain.StageCompletion{}, apperr.Validation(fmt.Sprintf("unknown stage %d", stageID))
	}
	ids, err := s.store.MissingMandatory(ctx, applicationID, stageID)
	if err != nil {
		return domain.StageCompletion{}, fmt.Errorf("check stage completion: %w", err)
	}
	missing := make([]domain.Requirement, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.catalog.Requirement(id); ok {
			missing = append(missing, r)
		}
	}
	return domain.StageCompletion{StageID: stageID, Complete: len(missing) == 0, Missing: missing}, nil
}

// GetRequirementCompletion returns requirement states for one stage, or for
// every stage when stageID is nil. Unrecorded requirements are pending.
func (s *Service) GetRequirementCompletion(ctx context.Context, applicationID uuid.UUID, stageID *int64) ([]domain.RequirementState, error) {
	if _, err := s.store.GetApplication(ctx, applicationID); err != nil {
		return nil, notFoundOr(err, "application not found", "stages.GetRequirementCompletion")
	}

	var stages []domain.Stage
	if stageID != nil {
		st, ok := s.catalog.Stage(*stageID)
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("unknown stage %d", *stageID))
		}
		stages = []domain.Stage{st}
	} else {
		stages = s.catalog.Stages()
	}

	completions, err := s.store.ListCompletions(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	byReq := make(map[int64]domain.RequirementCompletion, len(completions))
	for _, c := range completions {
		byReq[c.RequirementID] = c
	}

	var out []domain.RequirementState
	for _, st := range stages {
		for _, r := range s.catalog.Requirements(st.ID) {
			c, ok := byReq[r.ID]
			if !ok {
				c = domain.PendingCompletion(applicationID, r.ID)
			}
			out = append(out, domain.RequirementState{Requirement: r, Completion: c})
		}
	}
	return out, nil
}
