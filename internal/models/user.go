package models

import (
	"strings"
	"time"
)

// UserRole is a privilege level used for capability checks.
type UserRole string

const (
	RoleSuperAdmin  UserRole = "super_admin"
	RoleAdmin       UserRole = "admin"
	RoleBoardMember UserRole = "board_member"
	RoleViewer      UserRole = "viewer"

	// RoleDefault is assigned when neither credential nor profile carry a role.
	RoleDefault = RoleViewer
)

var roleRank = map[UserRole]int{
	RoleViewer:      0,
	RoleBoardMember: 1,
	RoleAdmin:       2,
	RoleSuperAdmin:  3,
}

// ParseRole normalises raw input; unknown values report false.
func ParseRole(raw string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := roleRank[role]
	return role, ok
}

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Outranks reports whether r grants strictly more privilege than other.
func (r UserRole) Outranks(other UserRole) bool {
	return roleRank[r] > roleRank[other]
}

// Credential is the issued sign-in identity. Its role is the claimed role.
type Credential struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Profile is the persisted user record administrators maintain.
type Profile struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	FullName   string    `db:"full_name" json:"full_name"`
	Role       UserRole  `db:"role" json:"role"`
	Department string    `db:"department" json:"department"`
	PhoneNo    string    `db:"phone_no" json:"phone_no"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	// TemporaryPassword is set only on the profile returned by a create that generated the
	// password. It is never stored.
	TemporaryPassword string `db:"-" json:"temp_password,omitempty"`
}

// ProfileUpdate carries the optional columns an update may touch.
type ProfileUpdate struct {
	ID       string
	FullName *string
	PhoneNo  *string
	Role     *UserRole
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.PhoneNo == nil && u.Role == nil
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
