package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the effective identity.
const ContextIdentityKey = "effectiveIdentity"

// IdentityResolver produces optimistic and reconciled identities from claims.
type IdentityResolver interface {
	Optimistic(claims *models.JWTClaims) *models.EffectiveIdentity
	Reconcile(ctx context.Context, claims *models.JWTClaims) (*models.EffectiveIdentity, error)
}

// Identity derives the effective role for the session. The claim-only identity is stored
// first and replaced by the reconciled one before the handler runs. Must follow JWT.
func Identity(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ContextIdentityKey, resolver.Optimistic(claims))

		identity, err := resolver.Reconcile(c.Request.Context(), claims)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the effective identity, or nil when none was derived.
func IdentityFromContext(c *gin.Context) *models.EffectiveIdentity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	identity, ok := value.(*models.EffectiveIdentity)
	if !ok {
		return nil
	}
	return identity
}
