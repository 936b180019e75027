package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/manit-portal/grievance-api/internal/middleware"
	"github.com/manit-portal/grievance-api/internal/models"
	"github.com/manit-portal/grievance-api/internal/policy"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) (policy.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		return policy.Actor{}, false
	}
	return policy.Actor{
		ID:         claims.UserID,
		Role:       claims.Role,
		Department: claims.Department,
	}, true
}
