package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/manit-portal/grievance-api/internal/dto"
	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
	"github.com/manit-portal/grievance-api/internal/service"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
	"github.com/manit-portal/grievance-api/pkg/response"
)

type grievanceService interface {
	Submit(ctx context.Context, actor policy.Actor, req dto.CreateGrievanceRequest) (*models.Grievance, error)
	GetByID(ctx context.Context, actor policy.Actor, id string) (*models.Grievance, error)
	List(ctx context.Context, actor policy.Actor) ([]*models.Grievance, error)
	UpdateStatus(ctx context.Context, actor policy.Actor, id string, req dto.UpdateStatusRequest) (*models.Grievance, error)
	Escalate(ctx context.Context, actor policy.Actor, id string, req dto.EscalateRequest) (*models.Grievance, error)
	AddComment(ctx context.Context, actor policy.Actor, id string, req dto.AddCommentRequest) (*models.Grievance, error)
	Statistics(ctx context.Context, actor policy.Actor) (*models.GrievanceStatistics, error)
	Export(ctx context.Context, actor policy.Actor, format service.ExportFormat) ([]byte, string, error)
}

// GrievanceHandler exposes the grievance lifecycle endpoints.
type GrievanceHandler struct {
	service grievanceService
}

// NewGrievanceHandler builds a new handler.
func NewGrievanceHandler(service grievanceService) *GrievanceHandler {
	return &GrievanceHandler{service: service}
}

// Submit godoc
// @Summary Submit a new grievance
// @Tags Grievances
// @Accept json
// @Produce json
// @Param payload body dto.CreateGrievanceRequest true "Grievance payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances [post]
func (h *GrievanceHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CreateGrievanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grievance payload"))
		return
	}

	grievance, err := h.service.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grievance)
}

// List godoc
// @Summary List grievances visible to the caller
// @Tags Grievances
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances [get]
func (h *GrievanceHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	grievances, err := h.service.List(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievances, map[string]interface{}{"count": len(grievances)})
}

// Get godoc
// @Summary Get a grievance by ID
// @Tags Grievances
// @Produce json
// @Param id path string true "Grievance ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances/{id} [get]
func (h *GrievanceHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	grievance, err := h.service.GetByID(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance)
}

// UpdateStatus godoc
// @Summary Update grievance status
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param payload body dto.UpdateStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances/{id}/status [patch]
func (h *GrievanceHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	grievance, err := h.service.UpdateStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance)
}

// Escalate godoc
// @Summary Escalate a grievance one level up
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param payload body dto.EscalateRequest true "Escalation payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances/{id}/escalate [post]
func (h *GrievanceHandler) Escalate(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid escalation payload"))
		return
	}

	grievance, err := h.service.Escalate(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance)
}

// AddComment godoc
// @Summary Comment on a grievance
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param payload body dto.AddCommentRequest true "Comment payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances/{id}/comments [post]
func (h *GrievanceHandler) AddComment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}

	grievance, err := h.service.AddComment(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grievance.Comments)
}

// Statistics godoc
// @Summary Role-scoped grievance statistics
// @Tags Grievances
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /grievances/statistics [get]
func (h *GrievanceHandler) Statistics(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	stats, err := h.service.Statistics(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats)
}

// Export godoc
// @Summary Export the caller's grievance list
// @Tags Grievances
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} byte
// @Security BearerAuth
// @Router /grievances/export [get]
func (h *GrievanceHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportCSV)))
	data, contentType, err := h.service.Export(c.Request.Context(), actor, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=grievances.%s", format))
	c.Data(http.StatusOK, contentType, data)
}
