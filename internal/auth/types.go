package auth

import (
	"time"
)

// Principal is an account that can authenticate.
type Principal struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	PasswordHash    string     `db:"password" json:"-"`
	Name            string     `db:"name" json:"name"`
	Phone           *string    `db:"phone" json:"phone,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	EmailVerified   bool       `db:"email_verified" json:"email_verified"`
	EmailVerifiedAt *time.Time `db:"email_verified_at" json:"email_verified_at,omitempty"`
	LastLoginAt     *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"-"`
}

// Usable reports whether the principal may authenticate.
func (p *Principal) Usable() bool {
	return p != nil && p.IsActive && p.DeletedAt == nil
}

// Role groups permissions.
type Role struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        RoleSlug  `db:"slug" json:"slug"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Permission is a grantable capability. Resource and Action are stored
// columns; the slug is an opaque identifier.
type Permission struct {
	ID          string         `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Slug        PermissionSlug `db:"slug" json:"slug"`
	Resource    string         `db:"resource" json:"resource"`
	Action      string         `db:"action" json:"action"`
	Description *string        `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// APIKey is a long-lived credential owned by a principal. Key holds the
// stored form, which is the secret itself or its digest.
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	Name       string     `db:"name" json:"name"`
	Key        string     `db:"key" json:"-"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
}

// Usable reports whether the key authenticates at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k == nil || !k.IsActive || k.DeletedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// IssuedAPIKey is returned once, on creation or rotation, and is the only
// time the secret is visible.
type IssuedAPIKey struct {
	APIKey
	Secret string `json:"key"`
}

// NewPrincipal is the insert shape for a principal.
type NewPrincipal struct {
	Email        string
	PasswordHash string
	Name         string
	Phone        *string
}

// NewAPIKey is the insert shape for an API key.
type NewAPIKey struct {
	UserID    string
	Name      string
	Key       string
	ExpiresAt *time.Time
}

// NewRole is the insert shape for a custom role.
type NewRole struct {
	Name        string
	Slug        RoleSlug
	Description *string
}

// Profile is a principal with its resolved grants.
type Profile struct {
	*Principal
	Role        RoleSlug         `json:"role"`
	Roles       []RoleSlug       `json:"roles"`
	Permissions []PermissionSlug `json:"permissions"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Principal *Principal `json:"user"`
	Role      RoleSlug   `json:"role"`
	Tokens    TokenPair  `json:"tokens"`
}
