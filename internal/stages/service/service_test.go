package service

import (
	"context"
	"testing"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/db"
	"permit_portal_backend/platform/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const twoStageCatalog = `
stages:
  - name: Submission
    order: 1
    requirements:
      - {type: form, name: FormA}
  - name: Review
    order: 2
    requirements:
      - {type: approval, name: ApprovalX}
      - {type: document, name: ReportY, mandatory: false}
`

type fixture struct {
	svc   *Service
	store *repository.SQLiteStore
	bus   *events.InMemoryBus
}

func newFixture(t *testing.T, catalogYAML string) *fixture {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	store, err := repository.NewSQLite(ctx, conn)
	require.NoError(t, err)

	var def domain.CatalogDefinition
	if catalogYAML == "" {
		def, err = domain.DefaultCatalogDefinition()
	} else {
		def, err = domain.ParseCatalogDefinition([]byte(catalogYAML))
	}
	require.NoError(t, err)
	_, err = store.SeedCatalog(ctx, def)
	require.NoError(t, err)

	catalog, err := repository.LoadCatalog(ctx, store)
	require.NoError(t, err)

	bus := events.NewInMemoryBus(nil)
	return &fixture{svc: New(store, catalog, bus, nil), store: store, bus: bus}
}

// submitted creates an application and initializes its progress.
func (f *fixture) submitted(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	app, err := f.svc.CreateApplication(ctx, uuid.NullUUID{}, "BP-100")
	require.NoError(t, err)
	_, err = f.svc.SubmitApplication(ctx, app.ID)
	require.NoError(t, err)
	return app.ID
}

func (f *fixture) stage(t *testing.T, name string) domain.Stage {
	t.Helper()
	for _, st := range f.svc.Catalog().Stages() {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("stage %q not in catalog", name)
	return domain.Stage{}
}

func (f *fixture) requirement(t *testing.T, name string) domain.Requirement {
	t.Helper()
	for _, st := range f.svc.Catalog().Stages() {
		for _, r := range f.svc.Catalog().Requirements(st.ID) {
			if r.Name == name {
				return r
			}
		}
	}
	t.Fatalf("requirement %q not in catalog", name)
	return domain.Requirement{}
}

func (f *fixture) complete(t *testing.T, appID uuid.UUID, reqNames ...string) {
	t.Helper()
	for _, name := range reqNames {
		_, err := f.svc.UpsertCompletion(context.Background(), domain.CompletionWrite{
			ApplicationID: appID,
			RequirementID: f.requirement(t, name).ID,
			Status:        domain.CompletionCompleted,
		})
		require.NoError(t, err)
	}
}

// completeStage marks every mandatory requirement of the stage completed.
func (f *fixture) completeStage(t *testing.T, appID uuid.UUID, stageID int64) {
	t.Helper()
	for _, r := range f.svc.Catalog().Requirements(stageID) {
		if r.IsMandatory {
			f.complete(t, appID, r.Name)
		}
	}
}

func (f *fixture) statuses(t *testing.T, appID uuid.UUID) map[string]domain.ProgressStatus {
	t.Helper()
	rows, err := f.svc.GetProgress(context.Background(), appID)
	require.NoError(t, err)
	out := make(map[string]domain.ProgressStatus, len(rows))
	for _, r := range rows {
		out[r.Stage.Name] = r.Progress.Status
	}
	return out
}
