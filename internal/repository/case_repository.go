package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

// CaseRepository persists disciplinary cases.
type CaseRepository struct {
	db *sqlx.DB
}

// NewCaseRepository constructs the repository.
func NewCaseRepository(db *sqlx.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a case linked to an existing student.
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.CaseStatusOpen
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO cases (id, student_id, title, description, offence_type, incident_date, incident_time, location,
	    priority, reported_by, reporter_mail, reporters_phone, status, created_at)
	VALUES (:id, :student_id, :title, :description, :offence_type, :incident_date, :incident_time, :location,
	    :priority, :reported_by, :reporter_mail, :reporters_phone, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	return nil
}
