package handler

import (
	"net/http"

	"permit_portal_backend/internal/inspections/service"
	"permit_portal_backend/internal/inspections/transport"
	"permit_portal_backend/platform/httpkit"
	"permit_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for inspection schedules
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new inspections handler
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the inspection routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Schedule)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/complete", h.Complete)
	rg.POST("/:id/cancel", h.Cancel)
	rg.POST("/:id/reschedule", h.Reschedule)
}

// RegisterApplicationRoutes registers routes nested under an application.
func (h *Handler) RegisterApplicationRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/inspections", h.ListForApplication)
}

func bindJSON(c *gin.Context, val *validator.Validator, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := val.Struct(dst); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.UUID{}, false
	}
	return id, true
}

// Schedule handles POST /api/v1/admin/inspections
func (h *Handler) Schedule(c *gin.Context) {
	var req transport.ScheduleInspectionRequest
	if !bindJSON(c, h.val, &req) {
		return
	}
	result, err := h.svc.ScheduleInspection(c.Request.Context(), service.ScheduleRequest{
		ApplicationID: req.ApplicationID,
		StageID:       req.StageID,
		InspectorID:   req.InspectorID,
		Date:          req.Date,
		Time:          req.Time,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// Get handles GET /api/v1/admin/inspections/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := h.svc.GetSchedule(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Complete handles POST /api/v1/admin/inspections/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.CompleteInspectionRequest
	if !bindJSON(c, h.val, &req) {
		return
	}
	result, err := h.svc.CompleteInspection(c.Request.Context(), id, httpkit.ActorID(c).UUID, req.Comments)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Cancel handles POST /api/v1/admin/inspections/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := h.svc.CancelInspection(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Reschedule handles POST /api/v1/admin/inspections/:id/reschedule
func (h *Handler) Reschedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.RescheduleInspectionRequest
	if !bindJSON(c, h.val, &req) {
		return
	}
	result, err := h.svc.RescheduleInspection(c.Request.Context(), id, req.Date, req.Time)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ListForApplication handles GET /api/v1/applications/:id/inspections
func (h *Handler) ListForApplication(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := h.svc.ListSchedules(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
