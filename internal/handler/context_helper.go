package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/discipline-portal-api/internal/middleware"
	"github.com/noah-isme/discipline-portal-api/internal/models"
)

func identityFromContext(c *gin.Context) *models.EffectiveIdentity {
	return middleware.IdentityFromContext(c)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
