package models

import "time"

// PunishmentStatus tracks a sanction's lifecycle.
type PunishmentStatus string

const (
	PunishmentStatusPending   PunishmentStatus = "pending"
	PunishmentStatusActive    PunishmentStatus = "active"
	PunishmentStatusCompleted PunishmentStatus = "completed"
	PunishmentStatusRevoked   PunishmentStatus = "revoked"
)

// Punishment is a sanction issued against a student for a case.
type Punishment struct {
	ID             string           `db:"id" json:"id"`
	CaseID         string           `db:"case_id" json:"case_id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	PunishmentType string           `db:"punishment_type" json:"punishment_type"`
	Description    string           `db:"description" json:"description"`
	StartDate      time.Time        `db:"start_date" json:"start_date"`
	EndDate        *time.Time       `db:"end_date" json:"end_date,omitempty"`
	Status         PunishmentStatus `db:"status" json:"status"`
	IssuedBy       string           `db:"issued_by" json:"issued_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}
