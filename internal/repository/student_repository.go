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

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByMatricNumber resolves a student by natural key. Missing rows surface as sql.ErrNoRows.
func (r *StudentRepository) FindByMatricNumber(ctx context.Context, matric string) (*models.Student, error) {
	const query = `SELECT id, full_name, matric_number, department, level, created_at FROM students WHERE matric_number = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, strings.TrimSpace(matric)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find student by matric number: %w", err)
	}
	return &student, nil
}

// Create inserts the student, or returns the row already holding the matric number when a
// concurrent writer got there first.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) (*models.Student, error) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}
	student.MatricNumber = strings.TrimSpace(student.MatricNumber)
	const query = `INSERT INTO students (id, full_name, matric_number, department, level, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (matric_number) DO UPDATE SET matric_number = EXCLUDED.matric_number
	RETURNING id, full_name, matric_number, department, level, created_at`
	var stored models.Student
	err := r.db.GetContext(ctx, &stored, query,
		student.ID, student.FullName, student.MatricNumber, student.Department, student.Level, student.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create student: %w", err)
	}
	return &stored, nil
}
