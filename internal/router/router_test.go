package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/dto"
	"github.com/noah-isme/discipline-portal-api/internal/handler"
	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/internal/service"
	"github.com/noah-isme/discipline-portal-api/pkg/config"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

// tokenTable maps bearer tokens to the role claimed in them.
type tokenTable map[string]models.UserRole

func (t tokenTable) ValidateToken(token string) (*models.JWTClaims, error) {
	role, ok := t[token]
	if !ok {
		return nil, appErrors.ErrUnauthorized
	}
	return &models.JWTClaims{UserID: token + "-id", Role: role}, nil
}

type claimResolver struct{}

func (claimResolver) Optimistic(claims *models.JWTClaims) *models.EffectiveIdentity {
	return &models.EffectiveIdentity{UserID: claims.UserID, Role: claims.Role, State: models.IdentityOptimistic}
}

func (claimResolver) Reconcile(ctx context.Context, claims *models.JWTClaims) (*models.EffectiveIdentity, error) {
	return &models.EffectiveIdentity{UserID: claims.UserID, Role: claims.Role, State: models.IdentityReconciled}, nil
}

type fakeApprovals struct{}

func (fakeApprovals) Submit(ctx context.Context, in dto.SubmitApprovalRequest, requesterID string) (*models.ApprovalRequest, error) {
	return &models.ApprovalRequest{ID: "r1", RequestType: in.RequestType, RequestedBy: requesterID, Status: models.ApprovalStatusPending}, nil
}

func (fakeApprovals) ListPending(ctx context.Context, query dto.ApprovalQuery) ([]models.ApprovalRequestView, error) {
	return []models.ApprovalRequestView{}, nil
}

func (fakeApprovals) Get(ctx context.Context, id string, viewer *models.EffectiveIdentity) (*models.ApprovalRequestView, error) {
	return &models.ApprovalRequestView{ApprovalRequest: models.ApprovalRequest{ID: id}}, nil
}

func (fakeApprovals) Decide(ctx context.Context, id string, in dto.DecideApprovalRequest, reviewer *models.EffectiveIdentity) (*models.DecisionResult, error) {
	return &models.DecisionResult{Request: &models.ApprovalRequest{ID: id, Status: in.Outcome}}, nil
}

func (fakeApprovals) RetryMaterialization(ctx context.Context, id string, reviewer *models.EffectiveIdentity) (*models.DecisionResult, error) {
	return &models.DecisionResult{Materialized: true}, nil
}

func (fakeApprovals) Execute(ctx context.Context, requestType models.RequestType, payload json.RawMessage, actor *models.EffectiveIdentity) (interface{}, error) {
	return map[string]string{"type": string(requestType)}, nil
}

type fakeAuth struct{}

func (fakeAuth) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return &models.LoginResponse{AccessToken: "t"}, nil
}

func (fakeAuth) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "t"}, nil
}

func (fakeAuth) Logout(ctx context.Context, req models.LogoutRequest, identity *models.EffectiveIdentity, ip, userAgent string) (*models.EffectiveIdentity, error) {
	return &models.EffectiveIdentity{State: models.IdentityCleared}, nil
}

func newTestEngine(approvalsEnabled bool) http.Handler {
	cfg := &config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1", Approvals: config.ApprovalsConfig{Enabled: approvalsEnabled}}
	approvals := fakeApprovals{}
	return New(Dependencies{
		Config:   cfg,
		Logger:   zap.NewNop(),
		Metrics:  service.NewMetricsService(),
		Tokens:   tokenTable{"root": models.RoleSuperAdmin, "member": models.RoleBoardMember, "guest": models.RoleViewer},
		Resolver: claimResolver{},

		Auth:      handler.NewAuthHandler(fakeAuth{}),
		Approvals: handler.NewApprovalHandler(approvals, nil),
		Direct:    handler.NewDirectHandler(approvals),
		Health:    handler.NewMetricsHandler(nil, nil),
	})
}

func serve(engine http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRouterRoleGates(t *testing.T) {
	engine := newTestEngine(true)
	submit := `{"request_type":"ADD_CASE","request_data":{}}`

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"submit without token", http.MethodPost, "/api/v1/approval-requests", "", submit, http.StatusUnauthorized},
		{"viewer cannot submit", http.MethodPost, "/api/v1/approval-requests", "guest", submit, http.StatusForbidden},
		{"board member submits", http.MethodPost, "/api/v1/approval-requests", "member", submit, http.StatusCreated},
		{"board member cannot list pending", http.MethodGet, "/api/v1/approval-requests/pending", "member", "", http.StatusForbidden},
		{"super admin lists pending", http.MethodGet, "/api/v1/approval-requests/pending", "root", "", http.StatusOK},
		{"board member cannot decide", http.MethodPost, "/api/v1/approval-requests/r1/decision", "member", `{"outcome":"APPROVED"}`, http.StatusForbidden},
		{"super admin decides", http.MethodPost, "/api/v1/approval-requests/r1/decision", "root", `{"outcome":"APPROVED"}`, http.StatusOK},
		{"board member cannot create users directly", http.MethodPost, "/api/v1/users", "member", `{}`, http.StatusForbidden},
		{"super admin creates case directly", http.MethodPost, "/api/v1/cases", "root", `{}`, http.StatusCreated},
		{"login is public", http.MethodPost, "/api/v1/auth/login", "", `{"email":"a@b.co","password":"secret"}`, http.StatusOK},
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(engine, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestRouterOmitsApprovalRoutesWhenDisabled(t *testing.T) {
	engine := newTestEngine(false)

	w := serve(engine, http.MethodGet, "/api/v1/approval-requests/pending", "root", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
