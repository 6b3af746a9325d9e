package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"permit_portal_backend/internal/stages/domain"
	stagerepo "permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testDBConfig struct{ url string }

func (c testDBConfig) GetDatabaseDriver() string { return config.DriverPostgres }
func (c testDBConfig) GetDatabaseURL() string    { return c.url }
func (c testDBConfig) GetMigrationsDir() string  { return "../../../migrations" }

var errOpenBooking = errors.New("stage already has an open booking")

// TestPostgresBookSerializesPerApplication runs against a disposable
// database named by TEST_DATABASE_URL.
func TestPostgresBookSerializesPerApplication(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	cfg := testDBConfig{url: url}
	require.NoError(t, db.RunMigrations(ctx, cfg))

	pool, err := db.NewPool(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	stages := stagerepo.NewPostgres(pool)
	def, err := domain.DefaultCatalogDefinition()
	require.NoError(t, err)
	_, err = stages.SeedCatalog(ctx, def)
	require.NoError(t, err)
	catalog, err := stagerepo.LoadCatalog(ctx, stages)
	require.NoError(t, err)

	now := time.Now().UTC()
	app := domain.Application{ID: uuid.New(), Reference: "BP-PG-7", Status: domain.ApplicationSubmitted, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, stages.CreateApplication(ctx, app))
	t.Cleanup(func() { _ = stages.DeleteApplication(context.Background(), app.ID) })

	repo := NewPostgres(pool)
	stage := catalog.InspectionStages()[0]
	onlyOneOpen := func(ctx context.Context, tx Lookup) error {
		latest, err := tx.Latest(ctx, app.ID, stage.ID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if latest.Status == StatusScheduled {
			return errOpenBooking
		}
		return nil
	}

	const callers = 12
	var booked atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := now.Add(time.Duration(i) * time.Millisecond)
			err := repo.Book(ctx, Schedule{
				ID:            uuid.New(),
				ApplicationID: app.ID,
				StageID:       stage.ID,
				InspectorID:   uuid.New(),
				ScheduledFor:  at.Add(24 * time.Hour),
				Status:        StatusScheduled,
				CreatedAt:     at,
				UpdatedAt:     at,
			}, onlyOneOpen)
			switch {
			case err == nil:
				booked.Add(1)
			case !errors.Is(err, errOpenBooking):
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, booked.Load())
	list, err := repo.ListForApplication(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
