package pg

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/repository"
)

// AssignRole grants role to a principal. Granting a held role is a no-op;
// an unknown role or principal is errs.ErrNotFound.
func (s *Store) AssignRole(ctx context.Context, principalID string, role auth.RoleSlug) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	res, err := s.conn(ctx).ExecContext(ctx, `
		insert into user_roles (id, user_id, role_id)
		select $1, $2, r.id from roles r where r.slug = $3
		on conflict (user_id, role_id) do nothing
	`, ids.New(), principalID, string(role))
	if err != nil {
		return repository.Translate("user_roles.assign", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return repository.Translate("user_roles.assign", err)
	}
	if aff > 0 {
		return nil
	}
	known, err := s.roles.Exists(ctx, repository.Criteria{"slug": string(role)})
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: role %s", errs.ErrNotFound, role)
	}
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, principalID string, role auth.RoleSlug) error {
	query, args, err := repository.Builder.Delete("user_roles").
		Where(squirrel.Eq{"user_id": principalID}).
		Where("role_id IN (SELECT id FROM roles WHERE slug = ?)", string(role)).
		ToSql()
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return repository.Translate("user_roles.revoke", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return repository.Translate("user_roles.revoke", err)
	}
	if aff == 0 {
		return fmt.Errorf("%w: user %s does not hold role %s", errs.ErrNotFound, principalID, role)
	}
	return nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	return s.roles.FindAll(ctx, nil)
}

func (s *Store) RoleByID(ctx context.Context, id string) (*auth.Role, error) {
	return s.roles.FindByID(ctx, id)
}

func (s *Store) CreateRole(ctx context.Context, r auth.NewRole) (*auth.Role, error) {
	return s.roles.Create(ctx, repository.Values{
		"name":        r.Name,
		"slug":        string(r.Slug),
		"description": r.Description,
	})
}

// SetRolePermissions replaces every grant of roleID in one transaction.
func (s *Store) SetRolePermissions(ctx context.Context, roleID string, perms []auth.PermissionSlug) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.WithinTx(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		if _, err := q.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return repository.Translate("role_permissions.clear", err)
		}
		for _, perm := range perms {
			res, err := q.ExecContext(ctx, `
				insert into role_permissions (id, role_id, permission_id)
				select $1, $2, p.id from permissions p where p.slug = $3
			`, ids.New(), roleID, string(perm))
			if err != nil {
				return repository.Translate("role_permissions.grant", err)
			}
			aff, err := res.RowsAffected()
			if err != nil {
				return repository.Translate("role_permissions.grant", err)
			}
			if aff == 0 {
				return fmt.Errorf("%w: permission %s", errs.ErrNotFound, perm)
			}
		}
		return nil
	})
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	return s.permissions.FindAll(ctx, nil)
}
