package service

import (
	"context"
	"testing"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUpsertCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)
	req := f.requirement(t, "FormA")
	ref := "payment-1"

	first, err := f.svc.UpsertCompletion(ctx, domain.CompletionWrite{
		ApplicationID: appID, RequirementID: req.ID, Status: domain.CompletionCompleted, ReferenceID: &ref,
	})
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)

	second, err := f.svc.UpsertCompletion(ctx, domain.CompletionWrite{
		ApplicationID: appID, RequirementID: req.ID, Status: domain.CompletionCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, domain.CompletionCompleted, second.Status)
	require.NotNil(t, second.ReferenceID)
	require.Equal(t, ref, *second.ReferenceID)

	states, err := f.svc.GetRequirementCompletion(ctx, appID, &req.StageID)
	require.NoError(t, err)
	require.Len(t, states, 1)
}

func TestUpsertCompletionRejectsUnknownRequirement(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	appID := f.submitted(t)

	_, err := f.svc.UpsertCompletion(context.Background(), domain.CompletionWrite{
		ApplicationID: appID, RequirementID: 9999, Status: domain.CompletionCompleted,
	})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpsertCompletionRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	appID := f.submitted(t)

	_, err := f.svc.UpsertCompletion(context.Background(), domain.CompletionWrite{
		ApplicationID: appID, RequirementID: f.requirement(t, "FormA").ID, Status: "done",
	})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpsertCompletionUnknownApplication(t *testing.T) {
	f := newFixture(t, twoStageCatalog)

	_, err := f.svc.UpsertCompletion(context.Background(), domain.CompletionWrite{
		ApplicationID: uuid.New(), RequirementID: f.requirement(t, "FormA").ID, Status: domain.CompletionCompleted,
	})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestGetCompletionDefaultsToPending(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	appID := f.submitted(t)
	req := f.requirement(t, "ApprovalX")

	c, err := f.svc.GetCompletion(context.Background(), appID, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CompletionPending, c.Status)
	require.Nil(t, c.CompletedAt)
}

func TestCheckStageCompletionListsMissing(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)
	review := f.stage(t, "Review")

	result, err := f.svc.CheckStageCompletion(ctx, appID, review.ID)
	require.NoError(t, err)
	require.False(t, result.Complete)
	require.Len(t, result.Missing, 1)
	require.Equal(t, "ApprovalX", result.Missing[0].Name)

	f.complete(t, appID, "ApprovalX")
	ok, err := f.svc.AreAllMandatorySatisfied(ctx, appID, review.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.CheckStageCompletion(ctx, appID, 4242)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRejectedCompletionDoesNotSatisfy(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)

	_, err := f.svc.UpsertCompletion(ctx, domain.CompletionWrite{
		ApplicationID: appID, RequirementID: f.requirement(t, "FormA").ID, Status: domain.CompletionRejected,
	})
	require.NoError(t, err)

	ok, err := f.svc.AreAllMandatorySatisfied(ctx, appID, f.stage(t, "Submission").ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResetDoesNotRevertProgress(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)
	f.complete(t, appID, "FormA")
	_, err := f.svc.TryAdvance(ctx, domain.AdvanceRequest{ApplicationID: appID})
	require.NoError(t, err)

	_, err = f.svc.UpsertCompletion(ctx, domain.CompletionWrite{
		ApplicationID: appID, RequirementID: f.requirement(t, "FormA").ID, Status: domain.CompletionPending,
	})
	require.NoError(t, err)

	statuses := f.statuses(t, appID)
	require.Equal(t, domain.ProgressCompleted, statuses["Submission"])
	require.Equal(t, domain.ProgressInProgress, statuses["Review"])
}

func TestGetRequirementCompletionAllStages(t *testing.T) {
	f := newFixture(t, twoStageCatalog)
	ctx := context.Background()
	appID := f.submitted(t)
	f.complete(t, appID, "ReportY")

	states, err := f.svc.GetRequirementCompletion(ctx, appID, nil)
	require.NoError(t, err)
	require.Len(t, states, 3)
	byName := map[string]domain.CompletionStatus{}
	for _, s := range states {
		byName[s.Requirement.Name] = s.Completion.Status
	}
	require.Equal(t, domain.CompletionPending, byName["FormA"])
	require.Equal(t, domain.CompletionCompleted, byName["ReportY"])

	_, err = f.svc.GetRequirementCompletion(ctx, uuid.New(), nil)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
