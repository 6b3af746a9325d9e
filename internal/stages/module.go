// Package stages provides the stage progression module: requirement
// tracking, the transition engine and its trigger adapters.
package stages

import (
	"context"
	"fmt"

	"permit_portal_backend/internal/events"
	apphttp "permit_portal_backend/internal/http"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/handler"
	"permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/internal/stages/service"
	"permit_portal_backend/internal/stages/triggers"
	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/validator"
)

// Module represents the stages domain module
type Module struct {
	handler  *handler.Handler
	service  *service.Service
	triggers *triggers.Adapter
	store    repository.Store
}

// NewModule seeds the catalog when the store is empty, loads it and wires
// the service, the trigger adapters and the HTTP handler.
func NewModule(ctx context.Context, store repository.Store, cfg config.CatalogConfig, bus events.Bus, val *validator.Validator, log *logger.Logger) (*Module, error) {
	def, err := domain.LoadCatalogDefinition(cfg.GetStageCatalogPath())
	if err != nil {
		return nil, err
	}
	seeded, err := store.SeedCatalog(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("seed stage catalog: %w", err)
	}
	catalog, err := repository.LoadCatalog(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load stage catalog: %w", err)
	}
	log.Info("stage catalog loaded", "stages", len(catalog.Stages()), "seeded", seeded)

	svc := service.New(store, catalog, bus, log)
	adapter := triggers.New(svc, val, log)
	adapter.Subscribe(bus)

	return &Module{
		handler:  handler.New(svc, adapter, val),
		service:  svc,
		triggers: adapter,
		store:    store,
	}, nil
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "stages"
}

// Service returns the stages service for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// Triggers returns the trigger adapter.
func (m *Module) Triggers() *triggers.Adapter {
	return m.triggers
}

// RegisterRoutes registers the module's routes under /api/v1 and /api/v1/admin
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1)
	m.handler.RegisterAdminRoutes(ctx.Admin)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
