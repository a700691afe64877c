package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/response"
)

// RequireRoles admits requests whose effective role is one of roles. Must follow Identity.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFromContext(c)
		if identity == nil || identity.State == models.IdentityUnresolved || identity.State == models.IdentityCleared {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		for _, role := range roles {
			if identity.Is(role) {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireAtLeast admits requests whose effective role is role or higher.
func RequireAtLeast(role models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFromContext(c)
		if identity == nil || identity.State == models.IdentityUnresolved || identity.State == models.IdentityCleared {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !identity.Can(role) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
