package dto

import (
	"encoding/json"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

// SubmitApprovalRequest records a deferred privileged action.
type SubmitApprovalRequest struct {
	RequestType models.RequestType `json:"request_type" validate:"required"`
	RequestData json.RawMessage    `json:"request_data" swaggertype:"object"`
}

// DecideApprovalRequest carries a reviewer's decision.
type DecideApprovalRequest struct {
	Outcome models.ApprovalStatus `json:"outcome" validate:"required"`
	Note    string                `json:"note" validate:"max=1000"`
}

// ApprovalQuery mirrors supported listing filters.
type ApprovalQuery struct {
	Type   models.RequestType
	Status []models.ApprovalStatus
	Limit  int
	Offset int
}
