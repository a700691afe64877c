package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

const approvalColumns = `id, request_type, request_data, requested_by, status, reviewed_by, reviewed_at, note,
       materialized_at, materialization_error, materialization_attempts, materialization_started_at, created_at`

// ApprovalRequestRepository persists approval requests.
type ApprovalRequestRepository struct {
	db *sqlx.DB
}

// NewApprovalRequestRepository constructs the repository.
func NewApprovalRequestRepository(db *sqlx.DB) *ApprovalRequestRepository {
	return &ApprovalRequestRepository{db: db}
}

// Create inserts a new PENDING request.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ApprovalStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_requests (id, request_type, request_data, requested_by, status, created_at)
	VALUES (:id, :request_type, :request_data, :requested_by, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier. Missing rows surface as sql.ErrNoRows.
func (r *ApprovalRequestRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter, newest first.
func (r *ApprovalRequestRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + approvalColumns + ` FROM approval_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("request_type = $%d", len(args)))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC, id DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	return requests, nil
}

// TransitionParams describes a decision on a PENDING request.
type TransitionParams struct {
	ID         string
	Status     models.ApprovalStatus
	ReviewedBy string
	ReviewedAt time.Time
	Note       *string
}

// MaterializationClaim describes a retry of an approved request's action.
type MaterializationClaim struct {
	ID               string
	ExpectedAttempts int
	StartedAt        time.Time
	AbandonedBefore  time.Time
}

// TransitionFromPending sets the terminal status only while the row is still PENDING and
// returns the updated row. It returns sql.ErrNoRows when the row is missing or already decided.
// Approvals start their first materialization attempt in the same statement.
func (r *ApprovalRequestRepository) TransitionFromPending(ctx context.Context, params TransitionParams) (*models.ApprovalRequest, error) {
	attempts := 0
	var startedAt *time.Time
	if params.Status == models.ApprovalStatusApproved {
		attempts = 1
		startedAt = &params.ReviewedAt
	}
	query := `UPDATE approval_requests
	SET status = $2, reviewed_by = $3, reviewed_at = $4, note = $5, materialization_attempts = $6,
	    materialization_started_at = $7
	WHERE id = $1 AND status = 'PENDING'
	RETURNING ` + approvalColumns
	var req models.ApprovalRequest
	err := r.db.GetContext(ctx, &req, query, params.ID, params.Status, params.ReviewedBy, params.ReviewedAt, params.Note, attempts, startedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("transition approval request: %w", err)
	}
	return &req, nil
}

// ClaimMaterialization starts a manual retry. The claim only succeeds while the last attempt
// has recorded a failure, or started before abandonedBefore without recording any outcome,
// and the attempt counter still matches expectedAttempts, so concurrent retries cannot both
// proceed.
func (r *ApprovalRequestRepository) ClaimMaterialization(ctx context.Context, claim MaterializationClaim) (*models.ApprovalRequest, error) {
	query := `UPDATE approval_requests
	SET materialization_attempts = materialization_attempts + 1, materialization_error = NULL,
	    materialization_started_at = $3
	WHERE id = $1 AND status = 'APPROVED' AND materialized_at IS NULL
	  AND (materialization_error IS NOT NULL OR materialization_started_at IS NULL OR materialization_started_at < $4)
	  AND materialization_attempts = $2
	RETURNING ` + approvalColumns
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, claim.ID, claim.ExpectedAttempts, claim.StartedAt, claim.AbandonedBefore); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("claim approval materialization: %w", err)
	}
	return &req, nil
}

// MarkMaterialized records a successful materialization.
func (r *ApprovalRequestRepository) MarkMaterialized(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE approval_requests SET materialized_at = $2, materialization_error = NULL
	WHERE id = $1 AND materialized_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark approval materialized: %w", err)
	}
	return nil
}

// RecordMaterializationFailure stores the latest mutator failure.
func (r *ApprovalRequestRepository) RecordMaterializationFailure(ctx context.Context, id, message string) error {
	const query = `UPDATE approval_requests SET materialization_error = $2 WHERE id = $1 AND materialized_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, message); err != nil {
		return fmt.Errorf("record approval materialization failure: %w", err)
	}
	return nil
}
