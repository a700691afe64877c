package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

type studentStore interface {
	FindByMatricNumber(ctx context.Context, matric string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) (*models.Student, error)
}

type caseStore interface {
	Create(ctx context.Context, c *models.Case) error
}

// CaseService files disciplinary cases, registering the student on first sight.
type CaseService struct {
	students studentStore
	cases    caseStore
	audit    auditLogger
	logger   *zap.Logger
}

// NewCaseService creates an instance of CaseService.
func NewCaseService(students studentStore, cases caseStore, audit auditLogger, logger *zap.Logger) *CaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseService{students: students, cases: cases, audit: audit, logger: logger}
}

// CreateCase resolves the student by matric number, creating it when unknown, then inserts
// the case against it. The student is never rolled back if the case insert fails.
func (s *CaseService) CreateCase(ctx context.Context, fields models.Case, student models.Student, actorID string) (*models.CaseWithStudent, error) {
	matric := strings.TrimSpace(student.MatricNumber)
	if matric == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingStudent, "student matric number is required")
	}

	resolved, err := s.students.FindByMatricNumber(ctx, matric)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		student.MatricNumber = matric
		resolved, err = s.students.Create(ctx, &student)
		if err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrStudentLookupFailed, err, "failed to register student")
		}
	default:
		return nil, appErrors.WrapAs(appErrors.ErrStudentLookupFailed, err, "")
	}

	fields.ID = ""
	fields.StudentID = resolved.ID
	fields.Status = models.CaseStatusOpen
	if err := s.cases.Create(ctx, &fields); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrCaseInsertFailed, err, "")
	}

	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionCaseCreate,
		Resource:   "cases",
		ResourceID: &fields.ID,
		NewValues:  auditValues(map[string]string{"student_id": resolved.ID, "matric_number": resolved.MatricNumber, "title": fields.Title}),
	})
	return &models.CaseWithStudent{Case: fields, Student: *resolved}, nil
}
