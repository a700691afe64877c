package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

type punishmentStore interface {
	Create(ctx context.Context, p *models.Punishment) error
}

// PunishmentService issues sanctions.
type PunishmentService struct {
	punishments punishmentStore
	audit       auditLogger
	logger      *zap.Logger
}

// NewPunishmentService creates an instance of PunishmentService.
func NewPunishmentService(punishments punishmentStore, audit auditLogger, logger *zap.Logger) *PunishmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PunishmentService{punishments: punishments, audit: audit, logger: logger}
}

// CreatePunishment inserts the record as given. Callers decide the status.
func (s *PunishmentService) CreatePunishment(ctx context.Context, record models.Punishment, actorID string) (*models.Punishment, error) {
	record.ID = ""
	if err := s.punishments.Create(ctx, &record); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPunishmentInsertFailed, err, "")
	}
	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionPunishmentCreate,
		Resource:   "punishments",
		ResourceID: &record.ID,
		NewValues:  auditValues(map[string]string{"case_id": record.CaseID, "student_id": record.StudentID, "status": string(record.Status)}),
	})
	return &record, nil
}
