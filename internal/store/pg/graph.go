package pg

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/repository"
)

// heldRoles joins a principal to its roles. Only active, non-deleted
// principals reach any row.
func heldRoles(columns ...string) squirrel.SelectBuilder {
	return repository.Builder.Select(columns...).
		From("user_roles ur").
		Join("users u ON u.id = ur.user_id").
		Join("roles r ON r.id = ur.role_id")
}

func forPrincipal(q squirrel.SelectBuilder, principalID string) squirrel.SelectBuilder {
	return q.
		Where(squirrel.Eq{"ur.user_id": principalID}).
		Where(squirrel.Eq{"u.is_active": true}).
		Where(repository.ActiveRecord("u"))
}

func grantedPermissions(columns ...string) squirrel.SelectBuilder {
	return heldRoles(columns...).
		Join("role_permissions rp ON rp.role_id = r.id").
		Join("permissions p ON p.id = rp.permission_id")
}

func (s *Store) RolesOf(ctx context.Context, principalID string) ([]string, error) {
	q := forPrincipal(heldRoles("DISTINCT r.slug"), principalID).OrderBy("r.slug")
	return s.selectStrings(ctx, "graph.roles_of", q)
}

func (s *Store) PermissionsOf(ctx context.Context, principalID string) ([]string, error) {
	q := forPrincipal(grantedPermissions("DISTINCT p.slug"), principalID).OrderBy("p.slug")
	return s.selectStrings(ctx, "graph.permissions_of", q)
}

func (s *Store) HasAnyRole(ctx context.Context, principalID string, roles []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	q := forPrincipal(heldRoles("1"), principalID).Where(squirrel.Eq{"r.slug": roles})
	return s.exists(ctx, "graph.has_any_role", q)
}

func (s *Store) HasAnyPermission(ctx context.Context, principalID string, perms []string) (bool, error) {
	if len(perms) == 0 {
		return false, nil
	}
	q := forPrincipal(grantedPermissions("1"), principalID).Where(squirrel.Eq{"p.slug": perms})
	return s.exists(ctx, "graph.has_any_permission", q)
}

func (s *Store) RoleSlugs(ctx context.Context) ([]string, error) {
	return s.selectStrings(ctx, "roles.slugs", repository.Builder.Select("slug").From("roles").OrderBy("slug"))
}

func (s *Store) PermissionSlugs(ctx context.Context) ([]string, error) {
	return s.selectStrings(ctx, "permissions.slugs", repository.Builder.Select("slug").From("permissions").OrderBy("slug"))
}

func (s *Store) selectStrings(ctx context.Context, op string, q squirrel.SelectBuilder) (_ []string, err error) {
	defer observeGraph(op, time.Now(), &err)
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	out := make([]string, 0)
	if err := sqlscan.Select(ctx, s.conn(ctx), &out, query, args...); err != nil {
		return nil, repository.Translate(op, err)
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, op string, q squirrel.SelectBuilder) (_ bool, err error) {
	defer observeGraph(op, time.Now(), &err)
	query, args, err := q.Limit(1).Prefix("SELECT EXISTS (").Suffix(")").ToSql()
	if err != nil {
		return false, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	var found bool
	if err := s.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, repository.Translate(op, err)
	}
	return found, nil
}

func observeGraph(op string, started time.Time, err *error) {
	obs.ObserveRepository("graph", op, started, *err)
}
