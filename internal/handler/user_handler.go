package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
	"github.com/manit-portal/grievance-api/pkg/response"
)

type userService interface {
	Profile(ctx context.Context, id string) (*models.User, error)
	ListStaff(ctx context.Context, actor policy.Actor, role models.UserRole, department string) ([]*models.User, error)
}

// UserHandler exposes account endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler builds a new handler.
func NewUserHandler(service userService) *UserHandler {
	return &UserHandler{service: service}
}

// Me godoc
// @Summary Current account profile
// @Tags Users
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	user, err := h.service.Profile(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// ListStaff godoc
// @Summary Browse the staff directory
// @Tags Users
// @Produce json
// @Param role query string true "Staff role"
// @Param department query string false "Department filter"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /users/staff [get]
func (h *UserHandler) ListStaff(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	role := models.UserRole(c.Query("role"))
	users, err := h.service.ListStaff(c.Request.Context(), actor, role, c.Query("department"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users)
}
