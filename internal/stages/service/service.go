// Package service implements stage progression: the requirement completion
// tracker, the progress tracker, and the transition engine that advances an
// application through the stage catalog.
package service

import (
	"errors"
	"fmt"
	"time"

	"permit_portal_backend/internal/events"
	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/repository"
	"permit_portal_backend/platform/apperr"
	"permit_portal_backend/platform/logger"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("permit_portal_backend/internal/stages")

// Service provides stage progression operations. It holds no per-application
// state; every decision is read from the store inside a transaction.
type Service struct {
	store    repository.Store
	catalog  *domain.Catalog
	eventBus events.Bus
	log      *logger.Logger
	now      func() time.Time
}

// New creates a stages service.
func New(store repository.Store, catalog *domain.Catalog, eventBus events.Bus, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		eventBus: eventBus,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the stage catalog the service was built with.
func (s *Service) Catalog() *domain.Catalog {
	return s.catalog
}

func notFoundOr(err error, msg, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msg).WithOp(op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) invariant(op string, applicationID fmt.Stringer, format string, args ...any) error {
	err := apperr.Invariant(fmt.Sprintf(format, args...)).WithOp(op)
	s.log.InvariantViolation(op, applicationID.String(), err)
	return err
}
