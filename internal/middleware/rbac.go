package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/manit-portal/grievance-api/internal/models"
	appErrors "github.com/manit-portal/grievance-api/pkg/errors"
	"github.com/manit-portal/grievance-api/pkg/response"
)

// RequireRoles blocks callers whose role is not in the allowed set. The
// per-record rules (ownership, level, department) live in the policy
// package; this gate only cuts off roles that can never reach a route.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff admits every staff role, leaving students out.
func RequireStaff() gin.HandlerFunc {
	return RequireRoles(models.RoleDepartmentAdmin, models.RoleHOD, models.RoleDirector, models.RoleDean)
}
