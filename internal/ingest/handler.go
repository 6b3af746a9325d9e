package ingest

import (
	"net/http"

	"permit_portal_backend/internal/events"
	apphttp "permit_portal_backend/internal/http"
	"permit_portal_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// AcceptedResponse is returned by the webhook intake.
type AcceptedResponse struct {
	Event     string `json:"event"`
	Duplicate bool   `json:"duplicate"`
}

// Module exposes webhook intake for upstream systems that cannot reach the broker.
type Module struct {
	dispatcher *Dispatcher
}

func NewModule(dispatcher *Dispatcher) *Module {
	return &Module{dispatcher: dispatcher}
}

func (m *Module) Name() string {
	return "ingest"
}

// RegisterRoutes mounts the intake on the rate-limited webhook group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Webhooks.POST("/payments", m.handle(events.NamePaymentCompleted))
	ctx.Webhooks.POST("/documents", m.handle(events.NameDocumentCompliant))
	ctx.Webhooks.POST("/inspections", m.handle(events.NameInspectionCompleted))
}

func (m *Module) handle(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
			return
		}
		event, err := Decode(name, body)
		if httpkit.HandleError(c, err) {
			return
		}
		duplicate, err := m.dispatcher.Dispatch(c.Request.Context(), event)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, AcceptedResponse{Event: name, Duplicate: duplicate})
	}
}

var _ apphttp.Module = (*Module)(nil)
