package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole enumerates the portal roles.
type UserRole string

const (
	RoleStudent         UserRole = "student"
	RoleDepartmentAdmin UserRole = "department_admin"
	RoleHOD             UserRole = "hod"
	RoleDirector        UserRole = "director"
	// RoleDean is a legacy director-equivalent role kept for accounts that
	// predate the consolidated hierarchy. It scopes exactly like director
	// and cannot be chosen at registration.
	RoleDean UserRole = "dean"
	// RoleSystem marks policy-driven audit entries, never a stored user.
	RoleSystem UserRole = "system"
)

// RegistrableRole reports whether r may be chosen at registration.
func RegistrableRole(r UserRole) bool {
	switch r {
	case RoleStudent, RoleDepartmentAdmin, RoleHOD, RoleDirector:
		return true
	}
	return false
}

// DirectorEquivalent reports whether r holds director-level scope.
func DirectorEquivalent(r UserRole) bool {
	return r == RoleDirector || r == RoleDean
}

// RequiresDepartment reports whether accounts with role r must carry a
// department.
func RequiresDepartment(r UserRole) bool {
	switch r {
	case RoleStudent, RoleDepartmentAdmin, RoleHOD:
		return true
	}
	return false
}

// User is a portal account. Grievances reference users by ID; ownership
// never transfers.
type User struct {
	ID           string   `db:"id" json:"id"`
	Username     string   `db:"username" json:"username"`
	Name         string   `db:"name" json:"name"`
	Email        string   `db:"email" json:"email"`
	PasswordHash string   `db:"password_hash" json:"-"`
	Role         UserRole `db:"role" json:"role"`
	Department   string   `db:"department" json:"department,omitempty"`

	EmailVerified            bool       `db:"email_verified" json:"email_verified"`
	EmailVerificationToken   *string    `db:"email_verification_token" json:"-"`
	EmailVerificationExpires *time.Time `db:"email_verification_expires" json:"-"`
	PasswordResetOTP         *string    `db:"password_reset_otp" json:"-"`
	PasswordResetOTPExpires  *time.Time `db:"password_reset_otp_expires" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// JWTClaims is the caller identity extracted from the access token.
// Department rides along so authorization scoping needs no user lookup.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Department string   `json:"department,omitempty"`
	jwt.RegisteredClaims
}
