package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/repository"
	"gatehouse.dev/internal/validation"
)

// RBACService implements user, role and permission administration.
type RBACService struct {
	store RBACStore
}

func NewRBACService(store RBACStore) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &RBACService{store: store}, nil
}

// UserQuery filters the user listing.
type UserQuery struct {
	Page          int
	Limit         int
	Search        string
	SortBy        string
	SortOrder     string
	IsActive      *bool
	EmailVerified *bool
}

func (s *RBACService) ListUsers(ctx context.Context, q UserQuery) (repository.Page[Principal], error) {
	criteria := repository.Criteria{}
	if q.IsActive != nil {
		criteria["is_active"] = *q.IsActive
	}
	if q.EmailVerified != nil {
		criteria["email_verified"] = *q.EmailVerified
	}
	return s.store.ListPrincipals(ctx, repository.PageRequest{
		Page:       q.Page,
		Limit:      q.Limit,
		Search:     q.Search,
		SortBy:     q.SortBy,
		SortOrder:  q.SortOrder,
		Criteria:   criteria,
		OnlyActive: true,
	})
}

func (s *RBACService) GetUser(ctx context.Context, id string) (*Principal, error) {
	p, err := s.store.PrincipalByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.DeletedAt != nil {
		return nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	return p, nil
}

// UserUpdate carries the fields an administrator may change.
type UserUpdate struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=2,max=100"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,min=10,max=20"`
	IsActive *bool   `json:"is_active,omitempty"`
}

func (s *RBACService) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*Principal, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		upd.Name = &name
	}
	if err := validation.Struct(upd); err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return nil, err
	}
	values := repository.Values{}
	if upd.Name != nil {
		values["name"] = *upd.Name
	}
	if upd.Phone != nil {
		values["phone"] = *upd.Phone
	}
	if upd.IsActive != nil {
		values["is_active"] = *upd.IsActive
	}
	p, err := s.store.UpdatePrincipal(ctx, id, values)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	return p, nil
}

func (s *RBACService) DeleteUser(ctx context.Context, id string) error {
	return s.store.SoftDeletePrincipal(ctx, id)
}

type roleRef struct {
	Slug string `json:"role" validate:"required,max=50,slug"`
}

func (s *RBACService) AssignRole(ctx context.Context, userID, role string) error {
	slug, err := s.roleSlug(role)
	if err != nil {
		return err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.store.AssignRole(ctx, userID, slug)
}

func (s *RBACService) RevokeRole(ctx context.Context, userID, role string) error {
	slug, err := s.roleSlug(role)
	if err != nil {
		return err
	}
	return s.store.RevokeRole(ctx, userID, slug)
}

func (s *RBACService) roleSlug(raw string) (RoleSlug, error) {
	ref := roleRef{Slug: strings.TrimSpace(raw)}
	if err := validation.Struct(ref); err != nil {
		return "", err
	}
	return RoleSlug(ref.Slug), nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRoleInput is the payload for CreateRole.
type CreateRoleInput struct {
	Name        string  `json:"name" validate:"required,min=2,max=50"`
	Slug        string  `json:"slug" validate:"required,min=2,max=50,slug"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=255"`
}

func (s *RBACService) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	role, err := s.store.CreateRole(ctx, NewRole{Name: in.Name, Slug: RoleSlug(in.Slug), Description: in.Description})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return nil, fmt.Errorf("%w: role %q already exists", errs.ErrConflict, in.Slug)
		}
		return nil, err
	}
	return role, nil
}

// SetRolePermissions replaces the role's grants with perms. Every slug must
// be in the permission catalog.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID string, perms []string) error {
	parsed, err := ParsePermissions(perms)
	if err != nil {
		return err
	}
	role, err := s.store.RoleByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role == nil {
		return fmt.Errorf("%w: role %s", errs.ErrNotFound, roleID)
	}
	return s.store.SetRolePermissions(ctx, role.ID, parsed)
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}
