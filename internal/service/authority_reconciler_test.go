package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/discipline-portal-api/internal/models"
	"github.com/noah-isme/discipline-portal-api/pkg/jobs"
)

func claimsFor(id string, role models.UserRole) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Email: id + "@example.com", Role: role}
}

func profileWith(id string, role models.UserRole) map[string]*models.Profile {
	return map[string]*models.Profile{id: {ID: id, Email: id + "@example.com", Role: role}}
}

func startCorrectionQueue(t *testing.T) *jobs.Queue {
	t.Helper()
	queue := jobs.NewQueue("corrections", jobs.QueueConfig{DisableRetries: true})
	queue.Start(context.Background())
	t.Cleanup(queue.Stop)
	return queue
}

func TestReconcileWithoutProfileUsesClaim(t *testing.T) {
	r := NewAuthorityReconciler(&stubProfileRoles{}, nil, nil, nil, zap.NewNop())

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)
	assert.Equal(t, models.IdentityReconciled, identity.State)
	assert.Nil(t, identity.PersistedRole)

	identity, err = r.Reconcile(context.Background(), claimsFor("u2", ""))
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, identity.Role)
	assert.Equal(t, models.RoleSourceDefault, identity.Source)
}

func TestReconcileMatchingRoles(t *testing.T) {
	r := NewAuthorityReconciler(&stubProfileRoles{profiles: profileWith("u1", models.RoleAdmin)}, nil, nil, nil, zap.NewNop())

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)
	assert.False(t, identity.CorrectionScheduled)
}

func TestReconcileHigherClaimOverViewerProfileWinsAndCorrects(t *testing.T) {
	profiles := &stubProfileRoles{profiles: profileWith("u1", models.RoleViewer), written: make(chan roleWrite, 1)}
	metrics := NewMetricsService()
	audit := &auditRecorder{}
	r := NewAuthorityReconciler(profiles, nil, audit, metrics, zap.NewNop(), WithCorrectionQueue(startCorrectionQueue(t)))

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleBoardMember))
	require.NoError(t, err)
	assert.Equal(t, models.RoleBoardMember, identity.Role)
	assert.Equal(t, models.RoleSourceClaim, identity.Source)
	assert.True(t, identity.CorrectionScheduled)
	require.NotNil(t, identity.PersistedRole)
	assert.Equal(t, models.RoleViewer, *identity.PersistedRole)

	select {
	case write := <-profiles.written:
		assert.Equal(t, roleWrite{id: "u1", role: models.RoleBoardMember}, write)
	case <-time.After(2 * time.Second):
		t.Fatal("correction was not written")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.corrections.WithLabelValues(CorrectionApplied)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.corrections.WithLabelValues(CorrectionScheduled)))
}

func TestReconcileViewerClaimOverHigherProfileKeepsProfile(t *testing.T) {
	profiles := &stubProfileRoles{profiles: profileWith("u1", models.RoleBoardMember)}
	r := NewAuthorityReconciler(profiles, nil, nil, nil, zap.NewNop(), WithCorrectionQueue(startCorrectionQueue(t)))

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleViewer))
	require.NoError(t, err)
	assert.Equal(t, models.RoleBoardMember, identity.Role)
	assert.Equal(t, models.RoleSourceProfile, identity.Source)
	assert.False(t, identity.CorrectionScheduled)
	assert.Zero(t, profiles.writeCount())
}

func TestReconcileNonViewerDisagreementPersistedWins(t *testing.T) {
	profiles := &stubProfileRoles{profiles: profileWith("u1", models.RoleBoardMember)}
	r := NewAuthorityReconciler(profiles, nil, nil, nil, zap.NewNop())

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleSuperAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.RoleBoardMember, identity.Role)
	assert.False(t, identity.Can(models.RoleSuperAdmin))
}

func TestReconcileOperatorOverride(t *testing.T) {
	profiles := &stubProfileRoles{profiles: profileWith("u1", models.RoleViewer)}
	r := NewAuthorityReconciler(profiles, nil, nil, nil, zap.NewNop(), WithOperatorEmails([]string{" U1@Example.com "}))

	optimistic := r.Optimistic(claimsFor("u1", models.RoleViewer))
	assert.Equal(t, models.RoleSuperAdmin, optimistic.Role)
	assert.Equal(t, models.IdentityOptimistic, optimistic.State)

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleViewer))
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, identity.Role)
	assert.Equal(t, models.RoleSourceOperator, identity.Source)
	assert.Equal(t, models.IdentityReconciled, identity.State)
	assert.Zero(t, profiles.writeCount())
}

func TestReconcileProfileErrorStaysOptimistic(t *testing.T) {
	r := NewAuthorityReconciler(&stubProfileRoles{findErr: errors.New("db down")}, nil, nil, nil, zap.NewNop())

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.IdentityOptimistic, identity.State)
	assert.Equal(t, models.RoleAdmin, identity.Role)
}

func TestReconcileCorrectionFailureIsSwallowed(t *testing.T) {
	profiles := &stubProfileRoles{
		profiles: profileWith("u1", models.RoleViewer),
		writeErr: errors.New("write refused"),
		written:  make(chan roleWrite, 1),
	}
	metrics := NewMetricsService()
	r := NewAuthorityReconciler(profiles, nil, nil, metrics, zap.NewNop(), WithCorrectionQueue(startCorrectionQueue(t)))

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)

	select {
	case <-profiles.written:
	case <-time.After(2 * time.Second):
		t.Fatal("correction was not attempted")
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.corrections.WithLabelValues(CorrectionFailed)) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, profiles.writeCount())
}

func TestStaleClaimDoesNotUndoDemotion(t *testing.T) {
	ctx := context.Background()
	creds := newMemCredentials()
	creds.byEmail["u1@example.com"] = &models.Credential{ID: "u1", Email: "u1@example.com", Role: models.RoleBoardMember}
	profiles := newMemProfiles()
	profiles.profiles["u1"] = &models.Profile{ID: "u1", Email: "u1@example.com", Role: models.RoleBoardMember}
	users := newTestUserService(creds, profiles, nil, nil)
	metrics := NewMetricsService()
	r := NewAuthorityReconciler(profiles, nil, nil, metrics, zap.NewNop(),
		WithCorrectionQueue(startCorrectionQueue(t)),
		WithCredentialLookup(creds),
	)

	viewer := models.RoleViewer
	_, err := users.CreateOrUpdateUser(ctx, UserMutation{
		Mode:   UserMutationUpdate,
		Update: &models.ProfileUpdate{ID: "u1", Role: &viewer},
	})
	require.NoError(t, err)

	// token issued before the demotion
	identity, err := r.Reconcile(ctx, claimsFor("u1", models.RoleBoardMember))
	require.NoError(t, err)
	assert.True(t, identity.CorrectionScheduled)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.corrections.WithLabelValues(CorrectionStale)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.RoleViewer, profiles.get("u1").Role)
	assert.Zero(t, testutil.ToFloat64(metrics.corrections.WithLabelValues(CorrectionApplied)))

	identity, err = r.Reconcile(ctx, claimsFor("u1", models.RoleViewer))
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, identity.Role)
	assert.False(t, identity.Can(models.RoleBoardMember))
}

func TestCorrectionAppliesWhenCredentialStillClaimsRole(t *testing.T) {
	creds := newMemCredentials()
	creds.byEmail["u1@example.com"] = &models.Credential{ID: "u1", Email: "u1@example.com", Role: models.RoleAdmin}
	profiles := newMemProfiles()
	profiles.profiles["u1"] = &models.Profile{ID: "u1", Email: "u1@example.com", Role: models.RoleViewer}
	metrics := NewMetricsService()
	r := NewAuthorityReconciler(profiles, nil, nil, metrics, zap.NewNop(),
		WithCorrectionQueue(startCorrectionQueue(t)),
		WithCredentialLookup(creds),
	)

	_, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleAdmin))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.corrections.WithLabelValues(CorrectionApplied)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, models.RoleAdmin, profiles.get("u1").Role)
}

func TestReconcileWithoutQueueDropsCorrection(t *testing.T) {
	profiles := &stubProfileRoles{profiles: profileWith("u1", models.RoleViewer)}
	r := NewAuthorityReconciler(profiles, nil, nil, nil, zap.NewNop())

	identity, err := r.Reconcile(context.Background(), claimsFor("u1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, identity.Role)
	assert.False(t, identity.CorrectionScheduled)
}

func TestReconcileRequiresClaims(t *testing.T) {
	r := NewAuthorityReconciler(&stubProfileRoles{}, nil, nil, nil, nil)

	_, err := r.Reconcile(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, models.IdentityUnresolved, r.Optimistic(nil).State)
}

func TestClearDropsPrivileges(t *testing.T) {
	r := NewAuthorityReconciler(&stubProfileRoles{}, nil, nil, nil, nil)
	cleared := r.Clear(&models.EffectiveIdentity{UserID: "u1", Role: models.RoleSuperAdmin, State: models.IdentityReconciled})

	assert.Equal(t, models.IdentityCleared, cleared.State)
	assert.Equal(t, "u1", cleared.UserID)
	assert.False(t, cleared.Is(models.RoleSuperAdmin))
}
