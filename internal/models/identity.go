package models

// IdentityState tracks how far a session's role has been resolved.
type IdentityState string

const (
	IdentityUnresolved IdentityState = "UNRESOLVED"
	IdentityOptimistic IdentityState = "OPTIMISTIC"
	IdentityReconciled IdentityState = "RECONCILED"
	IdentityCleared    IdentityState = "CLEARED"
)

// RoleSource names which input decided the effective role.
type RoleSource string

const (
	RoleSourceClaim    RoleSource = "claim"
	RoleSourceProfile  RoleSource = "profile"
	RoleSourceOperator RoleSource = "operator"
	RoleSourceDefault  RoleSource = "default"
)

// EffectiveIdentity is the working role of a session. It is derived per request and never stored.
type EffectiveIdentity struct {
	UserID              string        `json:"user_id"`
	Email               string        `json:"email"`
	ClaimedRole         UserRole      `json:"claimed_role,omitempty"`
	PersistedRole       *UserRole     `json:"persisted_role,omitempty"`
	Role                UserRole      `json:"role"`
	State               IdentityState `json:"state"`
	Source              RoleSource    `json:"source"`
	CorrectionScheduled bool          `json:"correction_scheduled"`
}

// Is reports whether the effective role equals role.
func (i *EffectiveIdentity) Is(role UserRole) bool {
	return i != nil && i.State != IdentityCleared && i.State != IdentityUnresolved && i.Role == role
}

// Can reports whether the effective role is at least role.
func (i *EffectiveIdentity) Can(role UserRole) bool {
	if i == nil || i.State == IdentityCleared || i.State == IdentityUnresolved {
		return false
	}
	return i.Role == role || i.Role.Outranks(role)
}
