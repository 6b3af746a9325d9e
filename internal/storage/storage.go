// Package storage opens the stage and inspection stores on the configured
// database driver.
package storage

import (
	"context"
	"fmt"

	inspectionsrepo "permit_portal_backend/internal/inspections/repository"
	stagesrepo "permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/db"
)

// Pinger is satisfied by *pgxpool.Pool and db.SQLHealth.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Storage bundles the stores a binary needs.
type Storage struct {
	Stages      stagesrepo.Store
	Inspections inspectionsrepo.Repository
	Health      Pinger
	close       func()
}

// Open connects to PostgreSQL or SQLite depending on DATABASE_DRIVER.
// PostgreSQL schemas come from migrations; SQLite creates its tables here.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Storage, error) {
	switch cfg.GetDatabaseDriver() {
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Stages:      stagesrepo.NewPostgres(pool),
			Inspections: inspectionsrepo.NewPostgres(pool),
			Health:      pool,
			close:       pool.Close,
		}, nil

	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.GetDatabaseURL())
		if err != nil {
			return nil, err
		}
		stages, err := stagesrepo.NewSQLite(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		inspections, err := inspectionsrepo.NewSQLite(ctx, conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &Storage{
			Stages:      stages,
			Inspections: inspections,
			Health:      db.SQLHealth{DB: conn},
			close:       func() { _ = conn.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.GetDatabaseDriver())
	}
}

func (s *Storage) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}
