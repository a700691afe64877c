package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/export"
)

const exportPageSize = 500

type decidedRequestLister interface {
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error)
}

// ExportQuery selects which decided requests are exported.
type ExportQuery struct {
	Format string
	Type   models.RequestType
	Status models.ApprovalStatus
}

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders decided approval requests for the committee's records.
type ExportService struct {
	requests   decidedRequestLister
	identities *IdentityDirectory
	logger     *zap.Logger
	now        func() time.Time
}

var approvalExportHeaders = []string{
	"ID", "Type", "Status", "Requested By", "Requester Email", "Reviewed By", "Reviewed At", "Materialized At", "Materialization Error", "Note", "Created At",
}

// NewExportService constructs an ExportService.
func NewExportService(requests decidedRequestLister, identities *IdentityDirectory, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		requests:   requests,
		identities: identities,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ExportDecided renders every decided request matching query.
func (s *ExportService) ExportDecided(ctx context.Context, query ExportQuery) (*ExportFile, error) {
	format, err := export.ParseFormat(query.Format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	if query.Type != "" && !query.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequestType, fmt.Sprintf("unsupported request type %q", query.Type))
	}
	statuses := []models.ApprovalStatus{models.ApprovalStatusApproved, models.ApprovalStatusRejected}
	if query.Status != "" {
		if !query.Status.Terminal() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "status must be APPROVED or REJECTED")
		}
		statuses = []models.ApprovalStatus{query.Status}
	}

	var requests []models.ApprovalRequest
	for offset := 0; ; offset += exportPageSize {
		page, err := s.requests.List(ctx, models.ApprovalFilter{Status: statuses, Type: query.Type, Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load decided requests")
		}
		requests = append(requests, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	dataset := s.buildDataset(ctx, requests)
	body, err := export.Render(format, dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("approval export rendered", zap.String("format", string(format)), zap.Int("rows", len(requests)))

	return &ExportFile{
		Filename:    fmt.Sprintf("approval_requests_%s.%s", s.now().Format("20060102_150405"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func (s *ExportService) buildDataset(ctx context.Context, requests []models.ApprovalRequest) export.Dataset {
	ids := make([]string, 0, len(requests)*2)
	for _, req := range requests {
		ids = append(ids, req.RequestedBy)
		if req.ReviewedBy != nil {
			ids = append(ids, *req.ReviewedBy)
		}
	}
	var identities map[string]models.RequesterIdentity
	if s.identities != nil && len(ids) > 0 {
		identities = s.identities.Resolve(ctx, ids)
	}
	name := func(id string) models.RequesterIdentity {
		if identity, ok := identities[id]; ok {
			return identity
		}
		return models.UnknownRequester(id)
	}

	rows := make([]map[string]string, 0, len(requests))
	for _, req := range requests {
		requester := name(req.RequestedBy)
		reviewer := ""
		if req.ReviewedBy != nil {
			reviewer = name(*req.ReviewedBy).FullName
		}
		rows = append(rows, map[string]string{
			"ID":                    req.ID,
			"Type":                  string(req.RequestType),
			"Status":                string(req.Status),
			"Requested By":          requester.FullName,
			"Requester Email":       requester.Email,
			"Reviewed By":           reviewer,
			"Reviewed At":           formatExportTime(req.ReviewedAt),
			"Materialized At":       formatExportTime(req.MaterializedAt),
			"Materialization Error": deref(req.MaterializationError),
			"Note":                  deref(req.Note),
			"Created At":            req.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{
		Title:   "Decided Approval Requests",
		Headers: approvalExportHeaders,
		Rows:    rows,
	}
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
