package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/internal/service"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/logger"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, s.err
}

type stubResolver struct {
	role       models.UserRole
	err        error
	optimistic *models.EffectiveIdentity
}

func (s *stubResolver) Optimistic(claims *models.JWTClaims) *models.EffectiveIdentity {
	s.optimistic = &models.EffectiveIdentity{UserID: claims.UserID, Role: claims.Role, State: models.IdentityOptimistic}
	return s.optimistic
}

func (s *stubResolver) Reconcile(ctx context.Context, claims *models.JWTClaims) (*models.EffectiveIdentity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.EffectiveIdentity{UserID: claims.UserID, Role: s.role, State: models.IdentityReconciled, Source: models.RoleSourceProfile}, nil
}

func newProtectedRouter(claims *models.JWTClaims, resolver *stubResolver, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", JWT(stubValidator{claims: claims}), Identity(resolver), guard, func(c *gin.Context) {
		identity := IdentityFromContext(c)
		c.JSON(http.StatusOK, gin.H{"role": identity.Role, "state": identity.State, "actor": c.GetString(logger.ActorKey)})
	})
	return router
}

func doGet(router http.Handler, auth string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTRejectsMissingOrMalformedHeader(t *testing.T) {
	router := newProtectedRouter(&models.JWTClaims{UserID: "u1"}, &stubResolver{role: models.RoleAdmin}, RequireAtLeast(models.RoleViewer))

	assert.Equal(t, http.StatusUnauthorized, doGet(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Bearer bad").Code)
}

func TestIdentityReplacesOptimisticWithReconciled(t *testing.T) {
	resolver := &stubResolver{role: models.RoleBoardMember}
	router := newProtectedRouter(&models.JWTClaims{UserID: "u1", Role: models.RoleViewer}, resolver, RequireAtLeast(models.RoleViewer))

	rec := doGet(router, "Bearer good")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(models.RoleBoardMember), body["role"])
	assert.Equal(t, string(models.IdentityReconciled), body["state"])
	assert.Equal(t, "u1", body["actor"])
	require.NotNil(t, resolver.optimistic)
	assert.Equal(t, models.RoleViewer, resolver.optimistic.Role)
}

func TestIdentityReconcileErrorAborts(t *testing.T) {
	resolver := &stubResolver{err: appErrors.Clone(appErrors.ErrUnauthorized, "missing identity claims")}
	router := newProtectedRouter(&models.JWTClaims{UserID: "u1"}, resolver, RequireAtLeast(models.RoleViewer))

	assert.Equal(t, http.StatusUnauthorized, doGet(router, "Bearer good").Code)
}

func TestRequireRolesUsesEffectiveRole(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1", Role: models.RoleSuperAdmin}

	denied := newProtectedRouter(claims, &stubResolver{role: models.RoleBoardMember}, RequireRoles(models.RoleSuperAdmin))
	assert.Equal(t, http.StatusForbidden, doGet(denied, "Bearer good").Code)

	allowed := newProtectedRouter(claims, &stubResolver{role: models.RoleSuperAdmin}, RequireRoles(models.RoleSuperAdmin))
	assert.Equal(t, http.StatusOK, doGet(allowed, "Bearer good").Code)
}

func TestRequireAtLeastRanksRoles(t *testing.T) {
	claims := &models.JWTClaims{UserID: "u1"}

	viewer := newProtectedRouter(claims, &stubResolver{role: models.RoleViewer}, RequireAtLeast(models.RoleBoardMember))
	assert.Equal(t, http.StatusForbidden, doGet(viewer, "Bearer good").Code)

	admin := newProtectedRouter(claims, &stubResolver{role: models.RoleAdmin}, RequireAtLeast(models.RoleBoardMember))
	assert.Equal(t, http.StatusOK, doGet(admin, "Bearer good").Code)
}

func TestRequireRolesWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", RequireRoles(models.RoleSuperAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, doGet(router, "").Code)
}

func TestMetricsRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	router := gin.New()
	router.Use(Metrics(metrics))
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	count, err := testutil.GatherAndCount(metrics.Registry(), "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
