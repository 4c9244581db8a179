package auth

import (
	"context"
	"time"

	"gatehouse.dev/internal/repository"
)

// Store is the persistence used by Service. Lookups return (nil, nil) when
// the row does not exist.
type Store interface {
	// WithinTx runs fn in one transaction; calls made with the ctx passed to
	// fn join it.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreatePrincipal(ctx context.Context, p NewPrincipal) (*Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	PrincipalByID(ctx context.Context, id string) (*Principal, error)
	TouchLastLogin(ctx context.Context, id string) error
	AssignRole(ctx context.Context, principalID string, role RoleSlug) error

	CreateAPIKey(ctx context.Context, k NewAPIKey) (*APIKey, error)
	APIKeyByID(ctx context.Context, principalID, keyID string) (*APIKey, error)
	// UsableAPIKey finds a key by its stored form that is active, not
	// deleted and not expired at now.
	UsableAPIKey(ctx context.Context, stored string, now time.Time) (*APIKey, error)
	ListAPIKeys(ctx context.Context, principalID string) ([]APIKey, error)
	DeactivateAPIKey(ctx context.Context, principalID, keyID string) error
	TouchAPIKey(ctx context.Context, keyID string) error
}

// GraphStore answers role and permission questions with joins over the
// assignment tables. Only active, non-deleted principals hold grants.
type GraphStore interface {
	CatalogSource
	RolesOf(ctx context.Context, principalID string) ([]string, error)
	PermissionsOf(ctx context.Context, principalID string) ([]string, error)
	HasAnyRole(ctx context.Context, principalID string, roles []string) (bool, error)
	HasAnyPermission(ctx context.Context, principalID string, perms []string) (bool, error)
}

// RBACStore backs the administrative operations.
type RBACStore interface {
	ListPrincipals(ctx context.Context, req repository.PageRequest) (repository.Page[Principal], error)
	PrincipalByID(ctx context.Context, id string) (*Principal, error)
	UpdatePrincipal(ctx context.Context, id string, values repository.Values) (*Principal, error)
	SoftDeletePrincipal(ctx context.Context, id string) error

	AssignRole(ctx context.Context, principalID string, role RoleSlug) error
	RevokeRole(ctx context.Context, principalID string, role RoleSlug) error

	ListRoles(ctx context.Context) ([]Role, error)
	RoleByID(ctx context.Context, id string) (*Role, error)
	CreateRole(ctx context.Context, r NewRole) (*Role, error)
	SetRolePermissions(ctx context.Context, roleID string, perms []PermissionSlug) error
	ListPermissions(ctx context.Context) ([]Permission, error)
}
