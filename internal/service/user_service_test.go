package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

type memCredentials struct {
	mu        sync.Mutex
	byEmail   map[string]*models.Credential
	findErr   error
	createErr error
	roleErr   error
	roles     map[string]models.UserRole
	nextID    int
}

func newMemCredentials() *memCredentials {
	return &memCredentials{byEmail: map[string]*models.Credential{}, roles: map[string]models.UserRole{}}
}

func (m *memCredentials) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *cred
	return &copied, nil
}

func (m *memCredentials) Create(ctx context.Context, cred *models.Credential) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cred.ID = fmt.Sprintf("cred-%d", m.nextID)
	copied := *cred
	m.byEmail[cred.Email] = &copied
	return nil
}

func (m *memCredentials) FindByID(ctx context.Context, id string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.byEmail {
		if cred.ID == id {
			copied := *cred
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memCredentials) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[id] = role
	if m.roleErr != nil {
		return m.roleErr
	}
	for _, cred := range m.byEmail {
		if cred.ID == id {
			cred.Role = role
		}
	}
	return nil
}

func (m *memCredentials) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byEmail)
}

type memProfiles struct {
	mu        sync.Mutex
	profiles  map[string]*models.Profile
	upsertErr error
	updateErr error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profiles: map[string]*models.Profile{}}
}

func (m *memProfiles) Upsert(ctx context.Context, profile *models.Profile) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *profile
	m.profiles[profile.ID] = &copied
	return nil
}

func (m *memProfiles) Update(ctx context.Context, update models.ProfileUpdate) (*models.Profile, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[update.ID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if update.FullName != nil {
		profile.FullName = *update.FullName
	}
	if update.PhoneNo != nil {
		profile.PhoneNo = *update.PhoneNo
	}
	if update.Role != nil {
		profile.Role = *update.Role
	}
	copied := *profile
	return &copied, nil
}

func (m *memProfiles) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *profile
	return &copied, nil
}

func (m *memProfiles) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return sql.ErrNoRows
	}
	profile.Role = role
	return nil
}

func (m *memProfiles) get(id string) *models.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id]
}

func newTestUserService(creds *memCredentials, profiles *memProfiles, audit auditLogger, logger *zap.Logger) *UserService {
	return NewUserService(creds, profiles, audit, nil, nil, logger)
}

func TestCreateUserIssuesCredentialAndProfile(t *testing.T) {
	creds := newMemCredentials()
	profiles := newMemProfiles()
	audit := &auditRecorder{}
	svc := newTestUserService(creds, profiles, audit, nil)

	profile, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode: UserMutationCreate,
		Create: &NewUser{
			Email:      "New.Member@Example.com",
			Password:   "secret1",
			FullName:   "New Member",
			Role:       models.RoleBoardMember,
			Department: "Law",
		},
		ActorID: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "new.member@example.com", profile.Email)
	assert.Equal(t, models.RoleBoardMember, profile.Role)

	cred, err := creds.FindByEmail(context.Background(), "new.member@example.com")
	require.NoError(t, err)
	assert.Equal(t, profile.ID, cred.ID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte("secret1")))
	require.NotNil(t, profiles.get(profile.ID))
	require.Len(t, audit.entries(), 1)
	assert.Equal(t, models.AuditActionUserCreate, audit.entries()[0].Action)
}

func TestCreateUserWithoutPasswordIssuesTemporaryOne(t *testing.T) {
	creds := newMemCredentials()
	profiles := newMemProfiles()
	audit := &auditRecorder{}
	svc := newTestUserService(creds, profiles, audit, nil)

	profile, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode:   UserMutationCreate,
		Create: &NewUser{Email: "a@x.edu", FullName: "A B", Role: models.RoleViewer},
	})
	require.NoError(t, err)
	require.Len(t, profile.TemporaryPassword, tempPasswordLength)
	assert.Empty(t, profile.Department)

	cred, err := creds.FindByEmail(context.Background(), "a@x.edu")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(profile.TemporaryPassword)))
	assert.Empty(t, profiles.get(profile.ID).TemporaryPassword)
	require.Len(t, audit.entries(), 1)
	assert.NotContains(t, string(audit.entries()[0].NewValues), profile.TemporaryPassword)
}

func TestGenerateTempPasswordMixesLettersAndDigits(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		password, err := generateTempPassword(tempPasswordLength)
		require.NoError(t, err)
		assert.Len(t, password, tempPasswordLength)
		assert.True(t, strings.ContainsAny(password, "23456789"), password)
		assert.True(t, strings.IndexFunc(password, func(r rune) bool { return r >= 'A' && r <= 'z' }) >= 0, password)
		assert.False(t, strings.ContainsAny(password, "0O1lI"), password)
		seen[password] = struct{}{}
	}
	assert.Greater(t, len(seen), 1)
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	creds := newMemCredentials()
	creds.byEmail["taken@example.com"] = &models.Credential{ID: "c1", Email: "taken@example.com"}
	svc := newTestUserService(creds, newMemProfiles(), nil, nil)

	_, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode:   UserMutationCreate,
		Create: &NewUser{Email: "taken@example.com", Password: "secret1", FullName: "Dup", Role: models.RoleViewer},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateUserCredentialFailure(t *testing.T) {
	creds := newMemCredentials()
	creds.createErr = errors.New("auth backend down")
	profiles := newMemProfiles()
	svc := newTestUserService(creds, profiles, nil, nil)

	_, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode:   UserMutationCreate,
		Create: &NewUser{Email: "a@example.com", Password: "secret1", FullName: "A", Role: models.RoleViewer},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCredentialIssuanceFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, profiles.profiles)
}

func TestCreateUserProfileFailureLogsOrphanedCredential(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	creds := newMemCredentials()
	profiles := newMemProfiles()
	profiles.upsertErr = errors.New("profiles table locked")
	svc := newTestUserService(creds, profiles, nil, zap.New(core))

	_, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode:   UserMutationCreate,
		Create: &NewUser{Email: "a@example.com", Password: "secret1", FullName: "A", Role: models.RoleViewer},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrProfileWriteFailed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, creds.count())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "a@example.com", logs.All()[0].ContextMap()["email"])
}

func TestCreateUserValidatesInput(t *testing.T) {
	svc := newTestUserService(newMemCredentials(), newMemProfiles(), nil, nil)

	_, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode:   UserMutationCreate,
		Create: &NewUser{Email: "not-an-email", Password: "1", Role: models.RoleViewer},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateOrUpdateUser(context.Background(), UserMutation{Mode: "delete"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateUserPatchesProfileAndSyncsRoleClaim(t *testing.T) {
	creds := newMemCredentials()
	profiles := newMemProfiles()
	profiles.profiles["u1"] = &models.Profile{ID: "u1", Email: "u1@example.com", FullName: "Old", Role: models.RoleBoardMember}
	audit := &auditRecorder{}
	svc := newTestUserService(creds, profiles, audit, nil)

	name := "New Name"
	role := models.RoleViewer
	profile, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{
		Mode:   UserMutationUpdate,
		Update: &models.ProfileUpdate{ID: "u1", FullName: &name, Role: &role},
	})
	require.NoError(t, err)
	assert.Equal(t, "New Name", profile.FullName)
	assert.Equal(t, models.RoleViewer, profile.Role)
	assert.Equal(t, models.RoleViewer, creds.roles["u1"])
	require.Len(t, audit.entries(), 1)
	assert.Equal(t, models.AuditActionUserUpdate, audit.entries()[0].Action)
}

func TestUpdateUserErrors(t *testing.T) {
	profiles := newMemProfiles()
	svc := newTestUserService(newMemCredentials(), profiles, nil, nil)
	name := "x"

	_, err := svc.CreateOrUpdateUser(context.Background(), UserMutation{Mode: UserMutationUpdate, Update: &models.ProfileUpdate{ID: "missing", FullName: &name}})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateOrUpdateUser(context.Background(), UserMutation{Mode: UserMutationUpdate, Update: &models.ProfileUpdate{ID: "u1"}})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	profiles.updateErr = errors.New("timeout")
	_, err = svc.CreateOrUpdateUser(context.Background(), UserMutation{Mode: UserMutationUpdate, Update: &models.ProfileUpdate{ID: "u1", FullName: &name}})
	assert.Equal(t, appErrors.ErrProfileWriteFailed.Code, appErrors.FromError(err).Code)
}
