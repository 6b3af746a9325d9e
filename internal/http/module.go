package http

import (
	"permit_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module represents a bounded context that can register its HTTP routes.
// Each domain module implements this interface to encapsulate its own
// route setup, keeping the main router decoupled from specific endpoints.
type Module interface {
	// Name returns the module's identifier for logging purposes.
	Name() string
	// RegisterRoutes mounts the module's routes on the provided router group.
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared route groups for module registration.
type RouterContext struct {
	// Engine is the root Gin engine for modules that need engine-level access.
	Engine *gin.Engine
	// V1 is the /api/v1 route group.
	V1 *gin.RouterGroup
	// Admin is the operator route group under /api/v1/admin. Requests must
	// carry an X-Actor-ID header.
	Admin *gin.RouterGroup
	// Webhooks is the rate-limited intake group under /api/v1/events.
	Webhooks *gin.RouterGroup
	// WebhookLimiter is the per-IP limiter applied to Webhooks.
	WebhookLimiter *httpkit.IPRateLimiter
}
