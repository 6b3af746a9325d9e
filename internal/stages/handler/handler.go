package handler

import (
	"net/http"
	"strconv"

	"permit_portal_backend/internal/stages/domain"
	"permit_portal_backend/internal/stages/service"
	"permit_portal_backend/internal/stages/transport"
	"permit_portal_backend/internal/stages/triggers"
	"permit_portal_backend/platform/httpkit"
	"permit_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for stage progression.
type Handler struct {
	svc      *service.Service
	triggers *triggers.Adapter
	val      *validator.Validator
}

// New creates a new stages handler.
func New(svc *service.Service, adapter *triggers.Adapter, val *validator.Validator) *Handler {
	return &Handler{svc: svc, triggers: adapter, val: val}
}

// RegisterRoutes registers the read-side and applicant routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stages", h.ListStages)
	rg.GET("/stages/:stageId/requirements", h.ListRequirements)

	apps := rg.Group("/applications")
	apps.POST("", h.CreateApplication)
	apps.GET("/:id", h.GetApplication)
	apps.POST("/:id/submit", h.SubmitApplication)
	apps.GET("/:id/progress", h.GetProgress)
	apps.GET("/:id/current-stage", h.GetCurrentStage)
	apps.GET("/:id/requirements", h.GetRequirementCompletion)
	apps.GET("/:id/stages/:stageId/completion", h.CheckStageCompletion)
	apps.GET("/:id/transitions", h.GetTransitionHistory)
}

// RegisterAdminRoutes registers operator actions.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	apps := rg.Group("/applications")
	apps.PUT("/:id/requirements/:requirementId", h.SetRequirementStatus)
	apps.POST("/:id/advance", h.AdvanceStage)
	apps.DELETE("/:id", h.DeleteApplication)
}

func parseApplicationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "invalid application id")
		return uuid.UUID{}, false
	}
	return id, true
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// ListStages handles GET /api/v1/stages
func (h *Handler) ListStages(c *gin.Context) {
	stages := h.svc.ListStages()
	out := make([]transport.StageResponse, 0, len(stages))
	for _, st := range stages {
		reqs, _ := h.svc.RequirementsFor(st.ID)
		out = append(out, transport.StageResponse{Stage: st, Requirements: reqs})
	}
	httpkit.OK(c, out)
}

// ListRequirements handles GET /api/v1/stages/:stageId/requirements
func (h *Handler) ListRequirements(c *gin.Context) {
	stageID, ok := parseInt64Param(c, "stageId")
	if !ok {
		return
	}
	reqs, err := h.svc.RequirementsFor(stageID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, reqs)
}

// CreateApplication handles POST /api/v1/applications
func (h *Handler) CreateApplication(c *gin.Context) {
	var req transport.CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	var applicant uuid.NullUUID
	if req.ApplicantID != nil {
		applicant = uuid.NullUUID{UUID: *req.ApplicantID, Valid: true}
	}
	app, err := h.svc.CreateApplication(c.Request.Context(), applicant, req.Reference)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, app)
}

// GetApplication handles GET /api/v1/applications/:id
func (h *Handler) GetApplication(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	app, err := h.svc.GetApplication(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, app)
}

// SubmitApplication handles POST /api/v1/applications/:id/submit
func (h *Handler) SubmitApplication(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	app, err := h.svc.SubmitApplication(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, app)
}

// DeleteApplication handles DELETE /api/v1/admin/applications/:id
func (h *Handler) DeleteApplication(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.svc.DeleteApplication(c.Request.Context(), id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

// GetProgress handles GET /api/v1/applications/:id/progress
func (h *Handler) GetProgress(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	app, err := h.svc.GetApplication(ctx, id)
	if httpkit.HandleError(c, err) {
		return
	}
	rows, err := h.svc.GetProgress(ctx, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ProgressResponse{Application: app, Stages: rows})
}

// GetCurrentStage handles GET /api/v1/applications/:id/current-stage
func (h *Handler) GetCurrentStage(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	st, err := h.svc.GetCurrentStage(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, st)
}

// GetRequirementCompletion handles GET /api/v1/applications/:id/requirements
func (h *Handler) GetRequirementCompletion(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	var q transport.RequirementCompletionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	states, err := h.svc.GetRequirementCompletion(c.Request.Context(), id, q.StageID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, states)
}

// CheckStageCompletion handles GET /api/v1/applications/:id/stages/:stageId/completion
func (h *Handler) CheckStageCompletion(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	stageID, ok := parseInt64Param(c, "stageId")
	if !ok {
		return
	}
	result, err := h.svc.CheckStageCompletion(c.Request.Context(), id, stageID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetTransitionHistory handles GET /api/v1/applications/:id/transitions
func (h *Handler) GetTransitionHistory(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	history, err := h.svc.GetTransitionHistory(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, history)
}

// SetRequirementStatus handles PUT /api/v1/admin/applications/:id/requirements/:requirementId
func (h *Handler) SetRequirementStatus(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	reqID, ok := parseInt64Param(c, "requirementId")
	if !ok {
		return
	}
	var req transport.SetRequirementStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	out, err := h.triggers.SetRequirementStatus(c.Request.Context(), triggers.SetRequirementStatus{
		ApplicationID: id,
		RequirementID: reqID,
		Status:        req.Status,
		Notes:         req.Notes,
		VerifiedBy:    httpkit.ActorID(c),
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.TriggerResponse{Marked: out.Marked, Steps: out.Steps, Deferred: out.Deferred})
}

// AdvanceStage handles POST /api/v1/admin/applications/:id/advance
func (h *Handler) AdvanceStage(c *gin.Context) {
	id, ok := parseApplicationID(c)
	if !ok {
		return
	}
	var req transport.AdvanceStageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		if err := h.val.Struct(req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
			return
		}
	}

	res, err := h.svc.AdvanceStageManually(c.Request.Context(), domain.AdvanceRequest{
		ApplicationID: id,
		CompletedBy:   httpkit.ActorID(c),
		Notes:         req.Notes,
		Trigger:       domain.TriggerManual,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.AdvanceResponse{AdvanceResult: res})
}
