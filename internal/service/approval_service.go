package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/dto"
	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/internal/repository"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

type approvalStore interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error)
	TransitionFromPending(ctx context.Context, params repository.TransitionParams) (*models.ApprovalRequest, error)
	ClaimMaterialization(ctx context.Context, claim repository.MaterializationClaim) (*models.ApprovalRequest, error)
	MarkMaterialized(ctx context.Context, id string, at time.Time) error
	RecordMaterializationFailure(ctx context.Context, id, message string) error
}

type materializationNotifier interface {
	MaterializationFailed(ctx context.Context, req models.ApprovalRequest, reason string)
}

// ApprovalService owns the approval request lifecycle and dispatches approved payloads.
type ApprovalService struct {
	store      approvalStore
	adapters   map[models.RequestType]ApprovalAdapter
	identities *IdentityDirectory
	notifier   materializationNotifier
	audit      auditLogger
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
	abandoned  time.Duration
}

// DefaultAbandonedAfter is how long an attempt may go without an outcome before a retry
// may reclaim it.
const DefaultAbandonedAfter = 5 * time.Minute

// ApprovalOption customises the approval service.
type ApprovalOption func(*ApprovalService)

// WithApprovalAdapters overrides the adapter registry.
func WithApprovalAdapters(adapters map[models.RequestType]ApprovalAdapter) ApprovalOption {
	return func(s *ApprovalService) {
		if len(adapters) == 0 {
			return
		}
		s.adapters = make(map[models.RequestType]ApprovalAdapter, len(adapters))
		for t, adapter := range adapters {
			s.adapters[t] = adapter
		}
	}
}

// WithMaterializationNotifier sets who is told about failed materializations.
func WithMaterializationNotifier(notifier materializationNotifier) ApprovalOption {
	return func(s *ApprovalService) {
		s.notifier = notifier
	}
}

// WithApprovalClock overrides the time source.
func WithApprovalClock(now func() time.Time) ApprovalOption {
	return func(s *ApprovalService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAbandonedAfter overrides DefaultAbandonedAfter.
func WithAbandonedAfter(d time.Duration) ApprovalOption {
	return func(s *ApprovalService) {
		if d > 0 {
			s.abandoned = d
		}
	}
}

// NewApprovalService constructs the approval engine.
func NewApprovalService(store approvalStore, identities *IdentityDirectory, audit auditLogger, metrics *MetricsService, logger *zap.Logger, opts ...ApprovalOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ApprovalService{
		store:      store,
		adapters:   make(map[models.RequestType]ApprovalAdapter),
		identities: identities,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		abandoned:  DefaultAbandonedAfter,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Submit records a PENDING request. The payload is only checked to be a JSON object here;
// its schema is enforced when the request is approved.
func (s *ApprovalService) Submit(ctx context.Context, in dto.SubmitApprovalRequest, requesterID string) (*models.ApprovalRequest, error) {
	ctx = context.WithoutCancel(ctx)
	if strings.TrimSpace(requesterID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "requester identity is required")
	}
	if !in.RequestType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestType, fmt.Sprintf("unsupported request type %q", in.RequestType))
	}
	data := bytes.TrimSpace(in.RequestData)
	var object map[string]json.RawMessage
	if len(data) == 0 || data[0] != '{' || json.Unmarshal(data, &object) != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request_data must be a JSON object")
	}

	req := &models.ApprovalRequest{
		RequestType: in.RequestType,
		RequestData: models.JSONDocument(data),
		RequestedBy: requesterID,
		Status:      models.ApprovalStatusPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit approval request")
	}

	s.metrics.RecordSubmission(req.RequestType)
	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     stringPtr(requesterID),
		Action:     models.AuditActionRequestSubmit,
		Resource:   "approval_requests",
		ResourceID: &req.ID,
		NewValues:  auditValues(map[string]string{"request_type": string(req.RequestType), "status": string(req.Status)}),
	})
	return req, nil
}

// ListPending returns PENDING requests, newest first, enriched with requester identities.
func (s *ApprovalService) ListPending(ctx context.Context, query dto.ApprovalQuery) ([]models.ApprovalRequestView, error) {
	if query.Type != "" && !query.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestType, fmt.Sprintf("unsupported request type %q", query.Type))
	}
	requests, err := s.store.List(ctx, models.ApprovalFilter{
		Status: []models.ApprovalStatus{models.ApprovalStatusPending},
		Type:   query.Type,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approval requests")
	}
	return s.enrich(ctx, requests), nil
}

// Get returns a single request. Only super_admins and the requester may read it.
func (s *ApprovalService) Get(ctx context.Context, id string, viewer *models.EffectiveIdentity) (*models.ApprovalRequestView, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.Is(models.RoleSuperAdmin) && (viewer == nil || viewer.UserID != req.RequestedBy) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this request")
	}
	views := s.enrich(ctx, []models.ApprovalRequest{*req})
	return &views[0], nil
}

// Decide applies the reviewer's outcome exactly once. Approval then materializes the
// payload synchronously; when that fails the request stays APPROVED, the failure is
// recorded, and the returned result still carries the decided request.
func (s *ApprovalService) Decide(ctx context.Context, id string, in dto.DecideApprovalRequest, reviewer *models.EffectiveIdentity) (*models.DecisionResult, error) {
	ctx = context.WithoutCancel(ctx)
	if !reviewer.Is(models.RoleSuperAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only super admins can decide approval requests")
	}
	if in.Outcome != models.ApprovalStatusApproved && in.Outcome != models.ApprovalStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "outcome must be APPROVED or REJECTED")
	}
	if err := checkRequestID(id); err != nil {
		return nil, err
	}

	decided, err := s.store.TransitionFromPending(ctx, repository.TransitionParams{
		ID:         id,
		Status:     in.Outcome,
		ReviewedBy: reviewer.UserID,
		ReviewedAt: s.now(),
		Note:       optionalString(strings.TrimSpace(in.Note)),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.transitionConflict(ctx, id)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}

	s.metrics.RecordDecision(decided.RequestType, decided.Status)
	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     stringPtr(reviewer.UserID),
		Action:     models.AuditActionRequestDecide,
		Resource:   "approval_requests",
		ResourceID: &decided.ID,
		OldValues:  auditValues(map[string]string{"status": string(models.ApprovalStatusPending)}),
		NewValues:  auditValues(map[string]string{"status": string(decided.Status)}),
	})

	if decided.Status == models.ApprovalStatusRejected {
		return &models.DecisionResult{Request: decided}, nil
	}
	return s.materialize(ctx, decided, reviewer.UserID)
}

// RetryMaterialization re-runs the mutator of an approved request whose last attempt
// failed, or whose last attempt started longer than the abandonment window ago without
// recording an outcome. Concurrent retries materialize at most once.
func (s *ApprovalService) RetryMaterialization(ctx context.Context, id string, reviewer *models.EffectiveIdentity) (*models.DecisionResult, error) {
	ctx = context.WithoutCancel(ctx)
	if !reviewer.Is(models.RoleSuperAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only super admins can retry approved requests")
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	abandonedBefore := now.Add(-s.abandoned)
	switch {
	case current.Status != models.ApprovalStatusApproved:
		return nil, appErrors.Clone(appErrors.ErrConflict, "request is not approved")
	case current.MaterializedAt != nil:
		return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "request already materialized")
	case current.MaterializationError == nil && current.MaterializationStarted != nil && !current.MaterializationStarted.Before(abandonedBefore):
		return nil, appErrors.Clone(appErrors.ErrConflict, "materialization is in progress")
	case current.MaterializationError == nil:
		s.logger.Warn("reclaiming abandoned materialization",
			zap.String("request_id", current.ID),
			zap.Int("attempt", current.MaterializationAttempts),
		)
	}

	claimed, err := s.store.ClaimMaterialization(ctx, repository.MaterializationClaim{
		ID:               current.ID,
		ExpectedAttempts: current.MaterializationAttempts,
		StartedAt:        now,
		AbandonedBefore:  abandonedBefore,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "materialization was retried concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim materialization")
	}

	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     stringPtr(reviewer.UserID),
		Action:     models.AuditActionRequestRetry,
		Resource:   "approval_requests",
		ResourceID: &claimed.ID,
		NewValues:  auditValues(map[string]int{"attempt": claimed.MaterializationAttempts}),
	})
	return s.materialize(ctx, claimed, reviewer.UserID)
}

// Execute runs a privileged action immediately through the same adapter an approval
// would use. No request is recorded.
func (s *ApprovalService) Execute(ctx context.Context, requestType models.RequestType, payload json.RawMessage, actor *models.EffectiveIdentity) (interface{}, error) {
	ctx = context.WithoutCancel(ctx)
	if !actor.Is(models.RoleSuperAdmin) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only super admins can perform this action directly")
	}
	adapter, ok := s.adapters[requestType]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestType, fmt.Sprintf("unsupported request type %q", requestType))
	}
	return adapter.Materialize(ctx, payload, actor.UserID)
}

// checkRequestID rejects identifiers that cannot name a stored request.
func checkRequestID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
	}
	return nil
}

func (s *ApprovalService) load(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if err := checkRequestID(id); err != nil {
		return nil, err
	}
	req, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval request")
	}
	return req, nil
}

func (s *ApprovalService) transitionConflict(ctx context.Context, id string) error {
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return appErrors.Clone(appErrors.ErrAlreadyDecided, fmt.Sprintf("request already %s", strings.ToLower(string(current.Status))))
}

func (s *ApprovalService) materialize(ctx context.Context, req *models.ApprovalRequest, actorID string) (*models.DecisionResult, error) {
	var (
		result interface{}
		err    error
	)
	if adapter, ok := s.adapters[req.RequestType]; ok {
		result, err = adapter.Materialize(ctx, json.RawMessage(req.RequestData), actorID)
	} else {
		err = appErrors.Clone(appErrors.ErrInvalidRequestType, fmt.Sprintf("no adapter for request type %q", req.RequestType))
	}

	if err != nil {
		cause := appErrors.FromError(err)
		reason := fmt.Sprintf("%s: %s", cause.Code, cause.Message)
		if recordErr := s.store.RecordMaterializationFailure(ctx, req.ID, reason); recordErr != nil {
			s.logger.Error("failed to record materialization failure", zap.String("request_id", req.ID), zap.Error(recordErr))
		}
		req.MaterializationError = &reason
		s.metrics.RecordMaterialization(req.RequestType, cause.Code)
		s.logger.Error("approved request could not be materialized",
			zap.String("request_id", req.ID),
			zap.String("request_type", string(req.RequestType)),
			zap.String("code", cause.Code),
			zap.Error(err),
		)
		if s.notifier != nil {
			s.notifier.MaterializationFailed(ctx, *req, reason)
		}
		return &models.DecisionResult{Request: req}, appErrors.WrapAs(appErrors.ErrMaterializationFailed, cause,
			fmt.Sprintf("request approved but the approved action failed (%s)", reason))
	}

	at := s.now()
	if markErr := s.store.MarkMaterialized(ctx, req.ID, at); markErr != nil {
		s.logger.Error("materialized request could not be marked", zap.String("request_id", req.ID), zap.Error(markErr))
	}
	req.MaterializedAt = &at
	req.MaterializationError = nil
	s.metrics.RecordMaterialization(req.RequestType, "")
	return &models.DecisionResult{Request: req, Materialized: true, Result: result}, nil
}

func (s *ApprovalService) enrich(ctx context.Context, requests []models.ApprovalRequest) []models.ApprovalRequestView {
	views := make([]models.ApprovalRequestView, 0, len(requests))
	if len(requests) == 0 {
		return views
	}
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.RequestedBy)
	}
	var identities map[string]models.RequesterIdentity
	if s.identities != nil {
		identities = s.identities.Resolve(ctx, ids)
	}
	for _, req := range requests {
		requester, ok := identities[req.RequestedBy]
		if !ok {
			requester = models.UnknownRequester(req.RequestedBy)
		}
		views = append(views, models.ApprovalRequestView{ApprovalRequest: req, Requester: requester})
	}
	return views
}
