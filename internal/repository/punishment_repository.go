package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

// PunishmentRepository persists sanctions.
type PunishmentRepository struct {
	db *sqlx.DB
}

// NewPunishmentRepository constructs the repository.
func NewPunishmentRepository(db *sqlx.DB) *PunishmentRepository {
	return &PunishmentRepository{db: db}
}

// Create inserts a punishment record.
func (r *PunishmentRepository) Create(ctx context.Context, p *models.Punishment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO punishments (id, case_id, student_id, punishment_type, description, start_date, end_date, status, issued_by, created_at)
	VALUES (:id, :case_id, :student_id, :punishment_type, :description, :start_date, :end_date, :status, :issued_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create punishment: %w", err)
	}
	return nil
}
