package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

// ProfileRepository reads and writes persisted user profiles.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository constructs the repository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindByID returns a profile; a missing profile surfaces as sql.ErrNoRows.
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	const query = `SELECT id, email, full_name, role, department, phone_no, created_at, updated_at FROM profiles WHERE id = $1`
	var profile models.Profile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &profile, nil
}

// FindIdentities loads display identities for the given profile ids in one round trip.
func (r *ProfileRepository) FindIdentities(ctx context.Context, ids []string) (map[string]models.RequesterIdentity, error) {
	result := make(map[string]models.RequesterIdentity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	const query = `SELECT id, full_name, email FROM profiles WHERE id = ANY($1)`
	var rows []struct {
		ID       string `db:"id"`
		FullName string `db:"full_name"`
		Email    string `db:"email"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find profile identities: %w", err)
	}
	for _, row := range rows {
		result[row.ID] = models.RequesterIdentity{ID: row.ID, FullName: row.FullName, Email: row.Email}
	}
	return result, nil
}

// Upsert writes the profile keyed by id, replacing any previous row.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	const query = `INSERT INTO profiles (id, email, full_name, role, department, phone_no, created_at, updated_at)
	VALUES (:id, :email, :full_name, :role, :department, :phone_no, :created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name, role = EXCLUDED.role,
	    department = EXCLUDED.department, phone_no = EXCLUDED.phone_no, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Update applies the set fields of update and returns the stored row, or sql.ErrNoRows.
func (r *ProfileRepository) Update(ctx context.Context, update models.ProfileUpdate) (*models.Profile, error) {
	setParts := make([]string, 0, 4)
	args := []interface{}{update.ID}
	if update.FullName != nil {
		args = append(args, *update.FullName)
		setParts = append(setParts, fmt.Sprintf("full_name = $%d", len(args)))
	}
	if update.PhoneNo != nil {
		args = append(args, *update.PhoneNo)
		setParts = append(setParts, fmt.Sprintf("phone_no = $%d", len(args)))
	}
	if update.Role != nil {
		args = append(args, *update.Role)
		setParts = append(setParts, fmt.Sprintf("role = $%d", len(args)))
	}
	args = append(args, time.Now().UTC())
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", len(args)))

	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $1
	RETURNING id, email, full_name, role, department, phone_no, created_at, updated_at`, strings.Join(setParts, ", "))
	var profile models.Profile
	if err := r.db.GetContext(ctx, &profile, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &profile, nil
}

// UpdateRole overwrites only the persisted role.
func (r *ProfileRepository) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	const query = `UPDATE profiles SET role = $2, updated_at = $3 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update profile role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check profile role rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
