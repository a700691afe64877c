package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/response"
)

const maxDirectPayloadBytes = 1 << 20

type directExecutor interface {
	Execute(ctx context.Context, requestType models.RequestType, payload json.RawMessage, actor *models.EffectiveIdentity) (interface{}, error)
}

// DirectHandler lets super admins perform privileged actions without an approval round.
// Payloads are the same ones an approval request would carry.
type DirectHandler struct {
	executor directExecutor
}

// NewDirectHandler constructs the handler.
func NewDirectHandler(executor directExecutor) *DirectHandler {
	return &DirectHandler{executor: executor}
}

// CreateUser godoc
// @Summary Create a user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body dto.AddUserPayload true "User"
// @Success 201 {object} response.Envelope
// @Router /users [post]
func (h *DirectHandler) CreateUser(c *gin.Context) {
	h.execute(c, models.RequestTypeAddUser, "")
}

// UpdateUser godoc
// @Summary Update a user profile
// @Tags Users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body dto.UpdateUserPayload true "Fields to change"
// @Success 200 {object} response.Envelope
// @Router /users/{id} [patch]
func (h *DirectHandler) UpdateUser(c *gin.Context) {
	h.execute(c, models.RequestTypeUpdateUser, c.Param("id"))
}

// CreateCase godoc
// @Summary File a disciplinary case
// @Tags Cases
// @Accept json
// @Produce json
// @Param payload body dto.AddCasePayload true "Case"
// @Success 201 {object} response.Envelope
// @Router /cases [post]
func (h *DirectHandler) CreateCase(c *gin.Context) {
	h.execute(c, models.RequestTypeAddCase, "")
}

// CreatePunishment godoc
// @Summary Issue a punishment
// @Tags Punishments
// @Accept json
// @Produce json
// @Param payload body dto.AddPunishmentPayload true "Punishment"
// @Success 201 {object} response.Envelope
// @Router /punishments [post]
func (h *DirectHandler) CreatePunishment(c *gin.Context) {
	h.execute(c, models.RequestTypeAddPunishment, "")
}

func (h *DirectHandler) execute(c *gin.Context, requestType models.RequestType, pathID string) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDirectPayloadBytes))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read payload"))
		return
	}
	if pathID = strings.TrimSpace(pathID); pathID != "" {
		raw, err = withID(raw, pathID)
		if err != nil {
			response.Error(c, err)
			return
		}
	}

	result, err := h.executor.Execute(c.Request.Context(), requestType, raw, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if requestType == models.RequestTypeUpdateUser {
		response.JSON(c, http.StatusOK, result, nil)
		return
	}
	response.Created(c, result)
}

func withID(raw []byte, id string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "payload must be a JSON object")
		}
	}
	encodedID, _ := json.Marshal(id)
	fields["id"] = encodedID
	return json.Marshal(fields)
}
