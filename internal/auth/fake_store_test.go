package auth

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/repository"
)

// memStore is an in-memory Store, GraphStore and RBACStore. WithinTx
// snapshots state and restores it when fn fails.
type memStore struct {
	mu         sync.Mutex
	principals map[string]Principal
	userRoles  map[string][]RoleSlug
	roles      map[RoleSlug]Role
	grants     map[RoleSlug][]PermissionSlug
	keys       map[string]APIKey

	graphQueries int
	touchErr     error
	graphErr     error
}

func newMemStore() *memStore {
	s := &memStore{
		principals: map[string]Principal{},
		userRoles:  map[string][]RoleSlug{},
		roles:      map[RoleSlug]Role{},
		grants:     map[RoleSlug][]PermissionSlug{},
		keys:       map[string]APIKey{},
	}
	for _, r := range BuiltinRoles() {
		s.roles[r] = Role{ID: ids.New(), Name: string(r), Slug: r}
	}
	s.grants[RoleUser] = []PermissionSlug{PermProfileView, PermProfileEdit, PermAPIKeysView, PermAPIKeysCreate, PermAPIKeysDelete, PermProductsView}
	s.grants[RoleManager] = []PermissionSlug{PermProfileView, PermUsersView, PermProductsView, PermProductsCreate, PermProductsEdit}
	s.grants[RoleSuperAdmin] = BuiltinPermissions()
	return s
}

type snapshot struct {
	principals map[string]Principal
	userRoles  map[string][]RoleSlug
	keys       map[string]APIKey
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	snap := snapshot{
		principals: maps.Clone(s.principals),
		userRoles:  maps.Clone(s.userRoles),
		keys:       maps.Clone(s.keys),
	}
	s.mu.Unlock()
	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.principals, s.userRoles, s.keys = snap.principals, snap.userRoles, snap.keys
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) CreatePrincipal(_ context.Context, np NewPrincipal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.principals {
		if p.Email == np.Email {
			return nil, fmt.Errorf("%w: users", errs.ErrConflict)
		}
	}
	now := time.Now().UTC()
	p := Principal{
		ID: ids.New(), Email: np.Email, PasswordHash: np.PasswordHash, Name: np.Name, Phone: np.Phone,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	s.principals[p.ID] = p
	return &p, nil
}

func (s *memStore) PrincipalByEmail(_ context.Context, email string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.principals {
		if p.Email == email && p.DeletedAt == nil {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) PrincipalByID(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) TouchLastLogin(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.principals[id]
	now := time.Now().UTC()
	p.LastLoginAt = &now
	s.principals[id] = p
	return nil
}

func (s *memStore) AssignRole(_ context.Context, principalID string, role RoleSlug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role]; !ok {
		return fmt.Errorf("%w: role %s", errs.ErrNotFound, role)
	}
	if !slices.Contains(s.userRoles[principalID], role) {
		s.userRoles[principalID] = append(slices.Clone(s.userRoles[principalID]), role)
	}
	return nil
}

func (s *memStore) RevokeRole(_ context.Context, principalID string, role RoleSlug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.userRoles[principalID]
	i := slices.Index(held, role)
	if i < 0 {
		return fmt.Errorf("%w: role assignment", errs.ErrNotFound)
	}
	s.userRoles[principalID] = slices.Delete(slices.Clone(held), i, i+1)
	return nil
}

func (s *memStore) CreateAPIKey(_ context.Context, nk NewAPIKey) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	k := APIKey{ID: ids.New(), UserID: nk.UserID, Name: nk.Name, Key: nk.Key, IsActive: true, ExpiresAt: nk.ExpiresAt, CreatedAt: now, UpdatedAt: now}
	s.keys[k.ID] = k
	return &k, nil
}

func (s *memStore) APIKeyByID(_ context.Context, principalID, keyID string) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.UserID != principalID || k.DeletedAt != nil {
		return nil, nil
	}
	return &k, nil
}

func (s *memStore) UsableAPIKey(_ context.Context, stored string, now time.Time) (*APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Key == stored && k.Usable(now) {
			return &k, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListAPIKeys(_ context.Context, principalID string) ([]APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []APIKey{}
	for _, k := range s.keys {
		if k.UserID == principalID && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *memStore) DeactivateAPIKey(_ context.Context, principalID, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.UserID != principalID {
		return fmt.Errorf("%w: api key %s", errs.ErrNotFound, keyID)
	}
	k.IsActive = false
	s.keys[keyID] = k
	return nil
}

func (s *memStore) TouchAPIKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	k := s.keys[keyID]
	now := time.Now().UTC()
	k.LastUsedAt = &now
	s.keys[keyID] = k
	return nil
}

func (s *memStore) RoleSlugs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.roles))
	for r := range s.roles {
		out = append(out, string(r))
	}
	return out, nil
}

func (s *memStore) PermissionSlugs(context.Context) ([]string, error) {
	return toStrings(BuiltinPermissions()), nil
}

func (s *memStore) live(principalID string) bool {
	p, ok := s.principals[principalID]
	return ok && p.Usable()
}

func (s *memStore) RolesOf(_ context.Context, principalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphQueries++
	if s.graphErr != nil {
		return nil, s.graphErr
	}
	if !s.live(principalID) {
		return []string{}, nil
	}
	return toStrings(s.userRoles[principalID]), nil
}

func (s *memStore) PermissionsOf(_ context.Context, principalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphQueries++
	if s.graphErr != nil {
		return nil, s.graphErr
	}
	out := []string{}
	if !s.live(principalID) {
		return out, nil
	}
	for _, r := range s.userRoles[principalID] {
		for _, p := range s.grants[r] {
			out = append(out, string(p))
		}
	}
	return out, nil
}

func (s *memStore) HasAnyRole(ctx context.Context, principalID string, roles []string) (bool, error) {
	held, err := s.RolesOf(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if slices.Contains(held, r) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) HasAnyPermission(ctx context.Context, principalID string, perms []string) (bool, error) {
	granted, err := s.PermissionsOf(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if slices.Contains(granted, p) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListPrincipals(_ context.Context, req repository.PageRequest) (repository.Page[Principal], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req = req.Normalize()
	data := []Principal{}
	for _, p := range s.principals {
		if p.DeletedAt == nil {
			data = append(data, p)
		}
	}
	slices.SortFunc(data, func(a, b Principal) int { return b.CreatedAt.Compare(a.CreatedAt) })
	total := int64(len(data))
	return repository.Page[Principal]{
		Data: data,
		Meta: repository.PageMeta{Page: req.Page, Limit: req.Limit, Total: total, TotalPages: repository.TotalPages(total, req.Limit)},
	}, nil
}

func (s *memStore) UpdatePrincipal(_ context.Context, id string, values repository.Values) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, nil
	}
	if v, ok := values["name"].(string); ok {
		p.Name = v
	}
	if v, ok := values["is_active"].(bool); ok {
		p.IsActive = v
	}
	if v, ok := values["phone"].(string); ok {
		p.Phone = &v
	}
	p.UpdatedAt = time.Now().UTC()
	s.principals[id] = p
	return &p, nil
}

func (s *memStore) SoftDeletePrincipal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok || p.DeletedAt != nil {
		return fmt.Errorf("%w: users %s", errs.ErrNotFound, id)
	}
	now := time.Now().UTC()
	p.DeletedAt = &now
	s.principals[id] = p
	return nil
}

func (s *memStore) ListRoles(context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.roles))
	slices.SortFunc(out, func(a, b Role) int { return cmp.Compare(a.Slug, b.Slug) })
	return out, nil
}

func (s *memStore) RoleByID(_ context.Context, id string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateRole(_ context.Context, nr NewRole) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[nr.Slug]; ok {
		return nil, fmt.Errorf("%w: roles", errs.ErrConflict)
	}
	r := Role{ID: ids.New(), Name: nr.Name, Slug: nr.Slug, Description: nr.Description}
	s.roles[nr.Slug] = r
	return &r, nil
}

func (s *memStore) SetRolePermissions(_ context.Context, roleID string, perms []PermissionSlug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, r := range s.roles {
		if r.ID == roleID {
			s.grants[slug] = slices.Clone(perms)
			return nil
		}
	}
	return fmt.Errorf("%w: role %s", errs.ErrNotFound, roleID)
}

func (s *memStore) ListPermissions(context.Context) ([]Permission, error) {
	out := []Permission{}
	for _, p := range BuiltinPermissions() {
		out = append(out, Permission{ID: string(p), Name: string(p), Slug: p})
	}
	return out, nil
}

var (
	_ Store      = (*memStore)(nil)
	_ GraphStore = (*memStore)(nil)
	_ RBACStore  = (*memStore)(nil)
)
