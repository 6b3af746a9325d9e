// Package inspections provides the inspection scheduling module.
package inspections

import (
	"permit_portal_backend/internal/events"
	apphttp "permit_portal_backend/internal/http"
	"permit_portal_backend/internal/inspections/handler"
	"permit_portal_backend/internal/inspections/repository"
	"permit_portal_backend/internal/inspections/service"
	"permit_portal_backend/platform/logger"
	"permit_portal_backend/platform/validator"
)

// Module represents the inspections domain module
type Module struct {
	handler *handler.Handler
	Service *service.Service
}

// NewModule creates a new inspections module with all dependencies wired
func NewModule(repo repository.Repository, apps service.Applications, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repo, apps, bus, log)
	svc.Subscribe(bus)
	return &Module{
		handler: handler.New(svc, val),
		Service: svc,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "inspections"
}

// RegisterRoutes registers the module's routes under /api/v1/admin/inspections
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Admin.Group("/inspections"))
	m.handler.RegisterApplicationRoutes(ctx.V1.Group("/applications"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
