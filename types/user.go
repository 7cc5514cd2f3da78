package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of authorization levels a user can hold.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	}
	return false
}

// User represents an account in the system.
// It contains identity, role, credential state, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID uuid.UUID `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address, stored lowercased and unique.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the system.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// PasswordChangedAt is the watermark used to invalidate tokens issued
	// before the most recent password change. Nil until the first change.
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at"`

	// PasswordResetHash is the SHA-256 hex of an outstanding reset token.
	// Set together with PasswordResetExpiresAt, cleared together.
	PasswordResetHash *string `json:"-" db:"password_reset_hash"`

	// PasswordResetExpiresAt is the absolute expiry of the reset token.
	PasswordResetExpiresAt *time.Time `json:"-" db:"password_reset_expires_at"`

	// Active is false for soft-deleted accounts. Inactive users cannot
	// authenticate and are excluded from normal reads.
	Active bool `json:"-" db:"active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PasswordChangedAfter reports whether the password was changed strictly
// after the given token issue time. A nil watermark means never changed.
func (u User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	// JWT iat has second precision; compare at the same granularity.
	return u.PasswordChangedAt.Unix() > issuedAt.Unix()
}
