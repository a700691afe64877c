package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// emitAudit writes an audit entry; failures are logged and never returned.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, entry *models.AuditLog) {
	if audit == nil || entry == nil {
		return
	}
	if entry.IPAddress == "" {
		entry.IPAddress = "system"
	}
	if entry.UserAgent == "" {
		entry.UserAgent = "discipline-portal-api"
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to persist audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func auditValues(v interface{}) models.JSONDocument {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringPtr(value string) *string {
	return &value
}
