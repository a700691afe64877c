package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// RequestType tags the deferred action a request carries.
type RequestType string

const (
	RequestTypeAddUser       RequestType = "ADD_USER"
	RequestTypeUpdateUser    RequestType = "UPDATE_USER"
	RequestTypeAddCase       RequestType = "ADD_CASE"
	RequestTypeAddPunishment RequestType = "ADD_PUNISHMENT"
)

// RequestTypes lists the closed set of supported request types.
var RequestTypes = []RequestType{
	RequestTypeAddUser,
	RequestTypeUpdateUser,
	RequestTypeAddCase,
	RequestTypeAddPunishment,
}

// Valid reports whether t belongs to the closed set.
func (t RequestType) Valid() bool {
	for _, known := range RequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ApprovalStatus captures the review state of a request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// Terminal reports whether s is a decided state.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// JSONDocument is a jsonb column exposed to clients as raw JSON.
type JSONDocument []byte

// MarshalJSON implements json.Marshaler.
func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// Value implements driver.Valuer. jsonb is bound as text.
func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return string(d), nil
}

// Scan implements sql.Scanner.
func (d *JSONDocument) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append(JSONDocument(nil), v...)
	case string:
		*d = JSONDocument(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	return nil
}

// ApprovalRequest is a deferred privileged mutation awaiting or past review.
type ApprovalRequest struct {
	ID                      string         `db:"id" json:"id"`
	RequestType             RequestType    `db:"request_type" json:"request_type"`
	RequestData             JSONDocument   `db:"request_data" json:"request_data"`
	RequestedBy             string         `db:"requested_by" json:"requested_by"`
	Status                  ApprovalStatus `db:"status" json:"status"`
	ReviewedBy              *string        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt              *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Note                    *string        `db:"note" json:"note,omitempty"`
	MaterializedAt          *time.Time     `db:"materialized_at" json:"materialized_at,omitempty"`
	MaterializationError    *string        `db:"materialization_error" json:"materialization_error,omitempty"`
	MaterializationAttempts int            `db:"materialization_attempts" json:"materialization_attempts"`
	MaterializationStarted  *time.Time     `db:"materialization_started_at" json:"materialization_started_at,omitempty"`
	CreatedAt               time.Time      `db:"created_at" json:"created_at"`
}

// AwaitingMaterialization reports an approved request whose action has not yet succeeded.
func (r *ApprovalRequest) AwaitingMaterialization() bool {
	return r != nil && r.Status == ApprovalStatusApproved && r.MaterializedAt == nil
}

// RequesterIdentity is the display identity attached to listed requests.
type RequesterIdentity struct {
	ID       string `json:"id,omitempty"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}

// UnknownRequester is shown when the requester's profile cannot be loaded.
func UnknownRequester(id string) RequesterIdentity {
	return RequesterIdentity{ID: id, FullName: "Unknown user"}
}

// ApprovalRequestView is a request enriched with its requester identity.
type ApprovalRequestView struct {
	ApprovalRequest
	Requester RequesterIdentity `json:"requester"`
}

// ApprovalFilter constrains listing queries.
type ApprovalFilter struct {
	Status      []ApprovalStatus
	Type        RequestType
	RequestedBy string
	Limit       int
	Offset      int
}

// DecisionResult reports the outcome of a decision or materialization retry.
type DecisionResult struct {
	Request      *ApprovalRequest `json:"request"`
	Materialized bool             `json:"materialized"`
	Result       interface{}      `json:"result,omitempty"`
}
