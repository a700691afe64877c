package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	appErrors "github.com/noah-isme/discipline-portal-api/pkg/errors"
	"github.com/noah-isme/discipline-portal-api/pkg/jobs"
)

// RoleCorrectionJob is the job type that writes a claimed role back into a profile.
const RoleCorrectionJob = "role_correction"

type profileRoleStore interface {
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	UpdateRole(ctx context.Context, id string, role models.UserRole) error
}

type credentialRoleLookup interface {
	FindByID(ctx context.Context, id string) (*models.Credential, error)
}

type roleCorrection struct {
	UserID   string
	Role     models.UserRole
	Previous models.UserRole
}

// AuthorityReconciler derives the effective role of a session from the issued credential's
// claim and the persisted profile.
type AuthorityReconciler struct {
	profiles    profileRoleStore
	credentials credentialRoleLookup
	operators   map[string]struct{}
	corrections *jobs.Queue
	identities  *IdentityDirectory
	audit       auditLogger
	metrics     *MetricsService
	logger      *zap.Logger
}

// ReconcilerOption customises the reconciler.
type ReconcilerOption func(*AuthorityReconciler)

// WithCorrectionQueue routes profile corrections through queue and registers the handler on it.
func WithCorrectionQueue(queue *jobs.Queue) ReconcilerOption {
	return func(r *AuthorityReconciler) {
		r.corrections = queue
	}
}

// WithCredentialLookup makes corrections re-read the issued credential before writing. A
// correction whose role the credential no longer claims is discarded.
func WithCredentialLookup(credentials credentialRoleLookup) ReconcilerOption {
	return func(r *AuthorityReconciler) {
		r.credentials = credentials
	}
}

// WithOperatorEmails sets the allow-list of accounts that always act as super_admin.
func WithOperatorEmails(emails []string) ReconcilerOption {
	return func(r *AuthorityReconciler) {
		for _, email := range emails {
			if trimmed := strings.ToLower(strings.TrimSpace(email)); trimmed != "" {
				r.operators[trimmed] = struct{}{}
			}
		}
	}
}

// NewAuthorityReconciler constructs the reconciler.
func NewAuthorityReconciler(profiles profileRoleStore, identities *IdentityDirectory, audit auditLogger, metrics *MetricsService, logger *zap.Logger, opts ...ReconcilerOption) *AuthorityReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &AuthorityReconciler{
		profiles:   profiles,
		operators:  make(map[string]struct{}),
		identities: identities,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.corrections != nil {
		r.corrections.Handle(RoleCorrectionJob, r.applyCorrection)
	}
	return r
}

func (r *AuthorityReconciler) isOperator(email string) bool {
	_, ok := r.operators[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Optimistic returns the identity implied by the claim alone. It is replaced once the
// profile has been consulted.
func (r *AuthorityReconciler) Optimistic(claims *models.JWTClaims) *models.EffectiveIdentity {
	if claims == nil || claims.UserID == "" {
		return &models.EffectiveIdentity{State: models.IdentityUnresolved}
	}
	identity := &models.EffectiveIdentity{
		UserID:      claims.UserID,
		Email:       claims.Email,
		ClaimedRole: claims.Role,
		Role:        claims.Role,
		State:       models.IdentityOptimistic,
		Source:      models.RoleSourceClaim,
	}
	if !claims.Role.Valid() {
		identity.Role = models.RoleDefault
		identity.Source = models.RoleSourceDefault
	}
	if r.isOperator(claims.Email) {
		identity.Role = models.RoleSuperAdmin
		identity.Source = models.RoleSourceOperator
	}
	return identity
}

// Reconcile resolves the effective role:
//   - operator accounts are super_admin;
//   - without a profile the claim applies, defaulting to viewer;
//   - matching roles apply as is;
//   - a higher claim over a viewer profile wins and is written back to the profile;
//   - otherwise the persisted role wins.
//
// A failed profile lookup keeps the optimistic identity.
func (r *AuthorityReconciler) Reconcile(ctx context.Context, claims *models.JWTClaims) (*models.EffectiveIdentity, error) {
	if claims == nil || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing identity claims")
	}
	identity := r.Optimistic(claims)
	if identity.Source == models.RoleSourceOperator {
		identity.State = models.IdentityReconciled
		r.metrics.RecordReconciliation(identity.Source)
		return identity, nil
	}

	profile, err := r.profiles.FindByID(ctx, claims.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("profile lookup failed, keeping claimed role",
			zap.String("user_id", claims.UserID),
			zap.Error(err),
		)
		return identity, nil
	}
	identity.State = models.IdentityReconciled

	if profile == nil || !profile.Role.Valid() {
		r.metrics.RecordReconciliation(identity.Source)
		return identity, nil
	}

	persisted := profile.Role
	identity.PersistedRole = &persisted
	claimed := claims.Role

	switch {
	case !claimed.Valid() || claimed == persisted:
		identity.Role = persisted
		identity.Source = models.RoleSourceProfile
	case persisted == models.RoleViewer:
		identity.Role = claimed
		identity.Source = models.RoleSourceClaim
		identity.CorrectionScheduled = r.scheduleCorrection(roleCorrection{
			UserID:   claims.UserID,
			Role:     claimed,
			Previous: persisted,
		})
	default:
		identity.Role = persisted
		identity.Source = models.RoleSourceProfile
	}

	r.metrics.RecordReconciliation(identity.Source)
	return identity, nil
}

// Clear returns the signed-out identity.
func (r *AuthorityReconciler) Clear(identity *models.EffectiveIdentity) *models.EffectiveIdentity {
	cleared := &models.EffectiveIdentity{State: models.IdentityCleared}
	if identity != nil {
		cleared.UserID = identity.UserID
		cleared.Email = identity.Email
	}
	return cleared
}

func (r *AuthorityReconciler) scheduleCorrection(correction roleCorrection) bool {
	if r.corrections == nil {
		r.metrics.RecordRoleCorrection(CorrectionDropped)
		return false
	}
	job := jobs.Job{
		ID:      fmt.Sprintf("%s:%s", correction.UserID, correction.Role),
		Type:    RoleCorrectionJob,
		Payload: correction,
	}
	if err := r.corrections.TryEnqueue(job); err != nil {
		r.logger.Warn("role correction not scheduled",
			zap.String("user_id", correction.UserID),
			zap.String("role", string(correction.Role)),
			zap.Error(err),
		)
		r.metrics.RecordRoleCorrection(CorrectionDropped)
		return false
	}
	r.metrics.RecordRoleCorrection(CorrectionScheduled)
	return true
}

func (r *AuthorityReconciler) applyCorrection(ctx context.Context, job jobs.Job) error {
	correction, ok := job.Payload.(roleCorrection)
	if !ok {
		r.metrics.RecordRoleCorrection(CorrectionFailed)
		return fmt.Errorf("unexpected role correction payload %T", job.Payload)
	}
	stale, err := r.correctionStale(ctx, correction)
	if err != nil {
		r.metrics.RecordRoleCorrection(CorrectionFailed)
		return err
	}
	if stale {
		r.logger.Info("discarding stale role correction",
			zap.String("user_id", correction.UserID),
			zap.String("role", string(correction.Role)),
		)
		r.metrics.RecordRoleCorrection(CorrectionStale)
		return nil
	}
	if err := r.profiles.UpdateRole(ctx, correction.UserID, correction.Role); err != nil {
		r.metrics.RecordRoleCorrection(CorrectionFailed)
		return fmt.Errorf("write corrected role: %w", err)
	}
	r.identities.Forget(ctx, correction.UserID)
	r.metrics.RecordRoleCorrection(CorrectionApplied)

	emitAudit(ctx, r.audit, r.logger, &models.AuditLog{
		UserID:     stringPtr(correction.UserID),
		Action:     models.AuditActionRoleCorrection,
		Resource:   "profiles",
		ResourceID: stringPtr(correction.UserID),
		OldValues:  auditValues(map[string]string{"role": string(correction.Previous)}),
		NewValues:  auditValues(map[string]string{"role": string(correction.Role)}),
	})
	return nil
}

// correctionStale reports whether the state that justified correction has changed since it
// was scheduled: the profile moved off the role it had, or the credential no longer claims
// the corrected role (a token issued before a demotion).
func (r *AuthorityReconciler) correctionStale(ctx context.Context, correction roleCorrection) (bool, error) {
	profile, err := r.profiles.FindByID(ctx, correction.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("reload profile: %w", err)
	}
	if profile.Role != correction.Previous {
		return true, nil
	}
	if r.credentials == nil {
		return false, nil
	}
	cred, err := r.credentials.FindByID(ctx, correction.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("reload credential: %w", err)
	}
	return cred.Role != correction.Role, nil
}
