package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/discipline-portal-api/internal/models"
)

var profileColumns = []string{"id", "email", "full_name", "role", "department", "phone_no", "created_at", "updated_at"}

func TestProfileRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow("u1", "a@x.edu", "A B", "viewer", "Law", "", now, now))

	profile, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, profile.Role)

	mock.ExpectQuery("FROM profiles WHERE id").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "u2")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryFindIdentities(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM profiles WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email"}).AddRow("u1", "A B", "a@x.edu"))

	identities, err := repo.FindIdentities(context.Background(), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "A B", identities["u1"].FullName)

	empty, err := repo.FindIdentities(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	mock.ExpectQuery("FROM profiles").WillReturnError(errors.New("down"))
	_, err = repo.FindIdentities(context.Background(), []string{"u1"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.Upsert(context.Background(), &models.Profile{ID: "u1", Email: "a@x.edu", FullName: "A B", Role: models.RoleViewer}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryUpdateOnlySetsGivenFields(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	now := time.Now()
	name := "New Name"
	role := models.RoleAdmin
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET full_name = $2, role = $3, updated_at = $4 WHERE id = $1")).
		WithArgs("u1", "New Name", "admin", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow("u1", "a@x.edu", "New Name", "admin", "Law", "", now, now))

	profile, err := repo.Update(context.Background(), models.ProfileUpdate{ID: "u1", FullName: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "New Name", profile.FullName)

	mock.ExpectQuery("UPDATE profiles SET").WillReturnError(sql.ErrNoRows)
	_, err = repo.Update(context.Background(), models.ProfileUpdate{ID: "missing", FullName: &name})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepositoryUpdateRoleMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewProfileRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET role = $2")).
		WithArgs("u1", "board_member", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateRole(context.Background(), "u1", models.RoleBoardMember)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	entry := &models.AuditLog{Action: models.AuditActionRequestSubmit, Resource: "approval_requests", NewValues: models.JSONDocument(`{}`)}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
