package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
)

type credentialStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Credential, error)
	Create(ctx context.Context, cred *models.Credential) error
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
}

type profileStore interface {
	Upsert(ctx context.Context, profile *models.Profile) error
	Update(ctx context.Context, update models.ProfileUpdate) (*models.Profile, error)
}

// UserMutationMode selects create or update behaviour.
type UserMutationMode string

const (
	UserMutationCreate UserMutationMode = "create"
	UserMutationUpdate UserMutationMode = "update"
)

const tempPasswordLength = 12

// NewUser holds the fields needed to issue a credential and write its profile. An empty
// Password issues a generated temporary one, returned once on the created profile.
type NewUser struct {
	Email      string          `validate:"required,email"`
	Password   string          `validate:"omitempty,min=6"`
	FullName   string          `validate:"required"`
	Role       models.UserRole `validate:"required"`
	Department string
}

// UserMutation is the input of CreateOrUpdateUser. Exactly one of Create or Update is read,
// according to Mode.
type UserMutation struct {
	Mode    UserMutationMode
	Create  *NewUser
	Update  *models.ProfileUpdate
	ActorID string
}

// UserService is the sole writer of credentials and profiles.
type UserService struct {
	credentials credentialStore
	profiles    profileStore
	audit       auditLogger
	identities  *IdentityDirectory
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(credentials credentialStore, profiles profileStore, audit auditLogger, identities *IdentityDirectory, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		credentials: credentials,
		profiles:    profiles,
		audit:       audit,
		identities:  identities,
		validator:   validate,
		logger:      logger,
	}
}

// CreateOrUpdateUser issues a credential and writes its profile (create), or patches an
// existing profile (update). The two create writes run in order and are not rolled back:
// a profile failure after issuance leaves an orphaned credential, reported as PROFILE_WRITE_FAILED.
func (s *UserService) CreateOrUpdateUser(ctx context.Context, m UserMutation) (*models.Profile, error) {
	switch m.Mode {
	case UserMutationCreate:
		if m.Create == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "create payload is required")
		}
		return s.create(ctx, *m.Create, m.ActorID)
	case UserMutationUpdate:
		if m.Update == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "update payload is required")
		}
		return s.update(ctx, *m.Update, m.ActorID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown user mutation mode")
	}
}

func (s *UserService) create(ctx context.Context, in NewUser, actorID string) (*models.Profile, error) {
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if !in.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if _, err := s.credentials.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.WrapAs(appErrors.ErrCredentialIssuanceFailed, err, "failed to check email uniqueness")
	}

	password, temporary := in.Password, ""
	if password == "" {
		generated, err := generateTempPassword(tempPasswordLength)
		if err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrCredentialIssuanceFailed, err, "failed to generate temporary password")
		}
		password, temporary = generated, generated
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrCredentialIssuanceFailed, err, "failed to hash password")
	}
	cred := &models.Credential{Email: email, PasswordHash: string(hash), Role: in.Role}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrCredentialIssuanceFailed, err, "")
	}

	profile := &models.Profile{
		ID:         cred.ID,
		Email:      email,
		FullName:   strings.TrimSpace(in.FullName),
		Role:       in.Role,
		Department: strings.TrimSpace(in.Department),
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		s.logger.Error("profile write failed after credential issuance, credential orphaned",
			zap.String("credential_id", cred.ID),
			zap.String("email", email),
			zap.Error(err),
		)
		return nil, appErrors.WrapAs(appErrors.ErrProfileWriteFailed, err, "")
	}

	if temporary != "" {
		s.logger.Info("issued temporary password", zap.String("user_id", profile.ID))
		profile.TemporaryPassword = temporary
	}

	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &profile.ID,
		NewValues:  auditValues(map[string]interface{}{"email": profile.Email, "role": profile.Role}),
	})
	return profile, nil
}

func (s *UserService) update(ctx context.Context, in models.ProfileUpdate, actorID string) (*models.Profile, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}
	if in.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no supported user fields provided")
	}
	if in.Role != nil && !in.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}

	profile, err := s.profiles.Update(ctx, in)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.WrapAs(appErrors.ErrProfileWriteFailed, err, "")
	}

	if in.Role != nil {
		// Keep the issued claim aligned so a deliberate demotion is not overridden by a stale claim.
		if err := s.credentials.UpdateRole(ctx, profile.ID, *in.Role); err != nil {
			s.logger.Warn("failed to sync credential role claim", zap.String("user_id", profile.ID), zap.Error(err))
		}
	}
	s.identities.Forget(ctx, profile.ID)

	emitAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     optionalString(actorID),
		Action:     models.AuditActionUserUpdate,
		Resource:   "users",
		ResourceID: &profile.ID,
		NewValues:  auditValues(map[string]interface{}{"full_name": in.FullName, "phone_no": in.PhoneNo, "role": in.Role}),
	})
	return profile, nil
}

// generateTempPassword returns a random password of at least one letter and one digit,
// drawn from an alphabet without look-alike characters.
func generateTempPassword(length int) (string, error) {
	const letters = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
	const digits = "23456789"
	const all = letters + digits

	if length < 4 {
		length = 8
	}
	pick := func(alphabet string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return 0, err
		}
		return alphabet[n.Int64()], nil
	}

	result := make([]byte, length)
	var err error
	if result[0], err = pick(letters); err != nil {
		return "", err
	}
	if result[1], err = pick(digits); err != nil {
		return "", err
	}
	for i := 2; i < length; i++ {
		if result[i], err = pick(all); err != nil {
			return "", err
		}
	}
	for i := length - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := n.Int64()
		result[i], result[j] = result[j], result[i]
	}
	return string(result), nil
}
