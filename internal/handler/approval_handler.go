package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/discipline-portal-api/internal/dto"
	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/internal/service"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/response"
)

type approvalService interface {
	Submit(ctx context.Context, in dto.SubmitApprovalRequest, requesterID string) (*models.ApprovalRequest, error)
	ListPending(ctx context.Context, query dto.ApprovalQuery) ([]models.ApprovalRequestView, error)
	Get(ctx context.Context, id string, viewer *models.EffectiveIdentity) (*models.ApprovalRequestView, error)
	Decide(ctx context.Context, id string, in dto.DecideApprovalRequest, reviewer *models.EffectiveIdentity) (*models.DecisionResult, error)
	RetryMaterialization(ctx context.Context, id string, reviewer *models.EffectiveIdentity) (*models.DecisionResult, error)
}

type approvalExporter interface {
	ExportDecided(ctx context.Context, query service.ExportQuery) (*service.ExportFile, error)
}

// ApprovalHandler exposes the approval request workflow.
type ApprovalHandler struct {
	service  approvalService
	exporter approvalExporter
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(service approvalService, exporter approvalExporter) *ApprovalHandler {
	return &ApprovalHandler{service: service, exporter: exporter}
}

// Submit godoc
// @Summary Submit an approval request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.SubmitApprovalRequest true "Deferred action"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /approval-requests [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	identity := identityFromContext(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval request payload"))
		return
	}
	req.RequestType = models.RequestType(strings.ToUpper(strings.TrimSpace(string(req.RequestType))))

	created, err := h.service.Submit(c.Request.Context(), req, identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// ListPending godoc
// @Summary List pending approval requests
// @Tags Approvals
// @Produce json
// @Param type query string false "Request type"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /approval-requests/pending [get]
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	query := dto.ApprovalQuery{
		Limit:  queryInt(c, "limit", 0),
		Offset: queryInt(c, "offset", 0),
	}
	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		query.Type = models.RequestType(strings.ToUpper(rawType))
	}
	requests, err := h.service.ListPending(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get an approval request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /approval-requests/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Decide godoc
// @Summary Approve or reject a pending request
// @Description Approval runs the requested action immediately. When that action fails the decision stands and the response carries both the error and the decided request.
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideApprovalRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /approval-requests/{id}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var req dto.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	req.Outcome = models.ApprovalStatus(strings.ToUpper(strings.TrimSpace(string(req.Outcome))))

	result, err := h.service.Decide(c.Request.Context(), c.Param("id"), req, identityFromContext(c))
	h.respondDecision(c, result, err)
}

// Retry godoc
// @Summary Retry the action of an approved request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /approval-requests/{id}/materialize [post]
func (h *ApprovalHandler) Retry(c *gin.Context) {
	result, err := h.service.RetryMaterialization(c.Request.Context(), c.Param("id"), identityFromContext(c))
	h.respondDecision(c, result, err)
}

// Export godoc
// @Summary Export decided approval requests
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Param type query string false "Request type"
// @Param status query string false "APPROVED or REJECTED"
// @Success 200 {file} file
// @Router /approval-requests/export [get]
func (h *ApprovalHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	file, err := h.exporter.ExportDecided(c.Request.Context(), service.ExportQuery{
		Format: c.Query("format"),
		Type:   models.RequestType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		Status: models.ApprovalStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func (h *ApprovalHandler) respondDecision(c *gin.Context, result *models.DecisionResult, err error) {
	if err != nil {
		if result != nil {
			response.ErrorWithData(c, err, result)
			return
		}
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
