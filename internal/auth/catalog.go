package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"gatehouse.dev/internal/errs"
)

// RoleSlug identifies a role. The builtin slugs below are the ones route
// declarations may reference; operators can add more at runtime.
type RoleSlug string

const (
	RoleSuperAdmin RoleSlug = "super-admin"
	RoleAdmin      RoleSlug = "admin"
	RoleManager    RoleSlug = "manager"
	RoleUser       RoleSlug = "user"
)

// PermissionSlug identifies a permission. The set is closed: only slugs
// listed here may be granted or required.
type PermissionSlug string

const (
	PermUsersView   PermissionSlug = "users.view"
	PermUsersCreate PermissionSlug = "users.create"
	PermUsersEdit   PermissionSlug = "users.edit"
	PermUsersDelete PermissionSlug = "users.delete"

	PermRolesView   PermissionSlug = "roles.view"
	PermRolesCreate PermissionSlug = "roles.create"
	PermRolesEdit   PermissionSlug = "roles.edit"
	PermRolesDelete PermissionSlug = "roles.delete"

	PermPermissionsView   PermissionSlug = "permissions.view"
	PermPermissionsAssign PermissionSlug = "permissions.assign"

	PermAPIKeysView   PermissionSlug = "api-keys.view"
	PermAPIKeysCreate PermissionSlug = "api-keys.create"
	PermAPIKeysDelete PermissionSlug = "api-keys.delete"

	PermProfileView PermissionSlug = "profile.view"
	PermProfileEdit PermissionSlug = "profile.edit"

	PermProductsView   PermissionSlug = "products.view"
	PermProductsCreate PermissionSlug = "products.create"
	PermProductsEdit   PermissionSlug = "products.edit"
	PermProductsDelete PermissionSlug = "products.delete"
)

// builtinRoles is ordered by precedence, strongest first.
var builtinRoles = []RoleSlug{RoleSuperAdmin, RoleAdmin, RoleManager, RoleUser}

var builtinPermissions = []PermissionSlug{
	PermUsersView, PermUsersCreate, PermUsersEdit, PermUsersDelete,
	PermRolesView, PermRolesCreate, PermRolesEdit, PermRolesDelete,
	PermPermissionsView, PermPermissionsAssign,
	PermAPIKeysView, PermAPIKeysCreate, PermAPIKeysDelete,
	PermProfileView, PermProfileEdit,
	PermProductsView, PermProductsCreate, PermProductsEdit, PermProductsDelete,
}

// BuiltinRoles returns the builtin roles in precedence order.
func BuiltinRoles() []RoleSlug { return slices.Clone(builtinRoles) }

// BuiltinPermissions returns every known permission slug.
func BuiltinPermissions() []PermissionSlug { return slices.Clone(builtinPermissions) }

// Builtin reports whether r is one of the seeded roles.
func (r RoleSlug) Builtin() bool { return slices.Contains(builtinRoles, r) }

// Valid reports whether p is in the permission catalog.
func (p PermissionSlug) Valid() bool { return slices.Contains(builtinPermissions, p) }

// ParsePermission converts s into a catalog slug.
func ParsePermission(s string) (PermissionSlug, error) {
	p := PermissionSlug(strings.TrimSpace(s))
	if !p.Valid() {
		return "", errs.Validation("unknown permission %q", s)
	}
	return p, nil
}

// ParsePermissions converts and de-duplicates a list of slugs.
func ParsePermissions(raw []string) ([]PermissionSlug, error) {
	out := make([]PermissionSlug, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// PrimaryRole picks the role carried in tokens for a principal holding roles.
// Builtin roles win in precedence order; otherwise the alphabetically first
// custom role is used. No roles yields "".
func PrimaryRole(roles []RoleSlug) RoleSlug {
	for _, r := range builtinRoles {
		if slices.Contains(roles, r) {
			return r
		}
	}
	if len(roles) == 0 {
		return ""
	}
	return slices.Min(roles)
}

// CatalogSource lists the slugs present in the store.
type CatalogSource interface {
	RoleSlugs(ctx context.Context) ([]string, error)
	PermissionSlugs(ctx context.Context) ([]string, error)
}

// ValidateCatalog checks that every builtin role and permission exists in
// the store, so a gate can never reference a slug nobody can hold.
func ValidateCatalog(ctx context.Context, src CatalogSource) error {
	roles, err := src.RoleSlugs(ctx)
	if err != nil {
		return err
	}
	perms, err := src.PermissionSlugs(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, r := range builtinRoles {
		if !slices.Contains(roles, string(r)) {
			missing = append(missing, "role:"+string(r))
		}
	}
	for _, p := range builtinPermissions {
		if !slices.Contains(perms, string(p)) {
			missing = append(missing, "permission:"+string(p))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("auth: catalog is missing %s; run migrations with seeds", strings.Join(missing, ", "))
	}
	return nil
}
