package gate

import (
	"fmt"
	"strings"

	"gatehouse.dev/internal/auth"
)

// Requirement is an any-of rule: a caller passes when it holds at least one
// listed role or at least one listed permission.
type Requirement struct {
	AnyRole       []auth.RoleSlug
	AnyPermission []auth.PermissionSlug
}

// Authenticated requires a caller but no particular grant.
var Authenticated = Requirement{}

func Roles(roles ...auth.RoleSlug) Requirement {
	return Requirement{AnyRole: roles}
}

func Permissions(perms ...auth.PermissionSlug) Requirement {
	return Requirement{AnyPermission: perms}
}

// Empty reports whether the requirement lists nothing.
func (r Requirement) Empty() bool {
	return len(r.AnyRole) == 0 && len(r.AnyPermission) == 0
}

// Validate rejects requirements naming slugs outside the catalog. Routes are
// validated when they are registered.
func (r Requirement) Validate() error {
	for _, role := range r.AnyRole {
		if !role.Builtin() {
			return fmt.Errorf("gate: unknown role %q", role)
		}
	}
	for _, perm := range r.AnyPermission {
		if !perm.Valid() {
			return fmt.Errorf("gate: unknown permission %q", perm)
		}
	}
	return nil
}

// MustValidate panics on an invalid requirement.
func (r Requirement) MustValidate() Requirement {
	if err := r.Validate(); err != nil {
		panic(err)
	}
	return r
}

func (r Requirement) String() string {
	var parts []string
	for _, role := range r.AnyRole {
		parts = append(parts, "role:"+string(role))
	}
	for _, perm := range r.AnyPermission {
		parts = append(parts, "permission:"+string(perm))
	}
	if len(parts) == 0 {
		return "authenticated"
	}
	return "any of [" + strings.Join(parts, " ") + "]"
}
