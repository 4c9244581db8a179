package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

// Resolver answers role and permission membership for principals. Within a
// context prepared by WithMemo, repeated questions are answered once.
type Resolver struct {
	store GraphStore
}

// NewResolver builds a Resolver over store.
func NewResolver(store GraphStore) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("auth: graph store is required")
	}
	return &Resolver{store: store}, nil
}

// RolesOf returns the principal's role slugs, sorted and unique.
func (r *Resolver) RolesOf(ctx context.Context, principalID string) ([]RoleSlug, error) {
	if principalID == "" {
		return nil, nil
	}
	raw, err := r.store.RolesOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return uniqueSorted[RoleSlug](raw), nil
}

// PermissionsOf returns the union of permissions granted through every role
// the principal holds, sorted and unique.
func (r *Resolver) PermissionsOf(ctx context.Context, principalID string) ([]PermissionSlug, error) {
	if principalID == "" {
		return nil, nil
	}
	raw, err := r.store.PermissionsOf(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return uniqueSorted[PermissionSlug](raw), nil
}

// PrimaryRole returns the role to embed in tokens for principalID.
func (r *Resolver) PrimaryRole(ctx context.Context, principalID string) (RoleSlug, error) {
	roles, err := r.RolesOf(ctx, principalID)
	if err != nil {
		return "", err
	}
	return PrimaryRole(roles), nil
}

// HasRole reports whether the principal holds role.
func (r *Resolver) HasRole(ctx context.Context, principalID string, role RoleSlug) (bool, error) {
	return r.HasAnyRole(ctx, principalID, role)
}

// HasPermission reports whether perm is granted through any held role.
func (r *Resolver) HasPermission(ctx context.Context, principalID string, perm PermissionSlug) (bool, error) {
	return r.HasAnyPermission(ctx, principalID, perm)
}

// HasAnyRole reports whether the principal holds at least one of roles. An
// empty list is false and does not touch the store.
func (r *Resolver) HasAnyRole(ctx context.Context, principalID string, roles ...RoleSlug) (bool, error) {
	if principalID == "" || len(roles) == 0 {
		return false, nil
	}
	slugs := toStrings(roles)
	return r.memoized(ctx, "role", principalID, slugs, func() (bool, error) {
		return r.store.HasAnyRole(ctx, principalID, slugs)
	})
}

// HasAnyPermission reports whether at least one of perms is granted. An
// empty list is false and does not touch the store.
func (r *Resolver) HasAnyPermission(ctx context.Context, principalID string, perms ...PermissionSlug) (bool, error) {
	if principalID == "" || len(perms) == 0 {
		return false, nil
	}
	slugs := toStrings(perms)
	return r.memoized(ctx, "perm", principalID, slugs, func() (bool, error) {
		return r.store.HasAnyPermission(ctx, principalID, slugs)
	})
}

func (r *Resolver) memoized(ctx context.Context, kind, principalID string, slugs []string, fetch func() (bool, error)) (bool, error) {
	m := memoFrom(ctx)
	if m == nil {
		return fetch()
	}
	key := kind + "|" + principalID + "|" + strings.Join(slugs, ",")
	if ok, found := m.get(key); found {
		return ok, nil
	}
	ok, err := fetch()
	if err != nil {
		return false, err
	}
	m.put(key, ok)
	return ok, nil
}

type memoKey struct{}

// memo caches membership answers for the lifetime of one request. Errors
// are never cached.
type memo struct {
	mu      sync.Mutex
	answers map[string]bool
}

// WithMemo returns a context whose membership answers are cached. Calling it
// on a context that already carries a memo returns ctx unchanged.
func WithMemo(ctx context.Context) context.Context {
	if memoFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, memoKey{}, &memo{answers: make(map[string]bool)})
}

func memoFrom(ctx context.Context) *memo {
	m, _ := ctx.Value(memoKey{}).(*memo)
	return m
}

func (m *memo) get(key string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, found := m.answers[key]
	return ok, found
}

func (m *memo) put(key string, ok bool) {
	m.mu.Lock()
	m.answers[key] = ok
	m.mu.Unlock()
}

func toStrings[S ~string](in []S) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func uniqueSorted[S ~string](raw []string) []S {
	out := make([]S, 0, len(raw))
	for _, s := range raw {
		out = append(out, S(s))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
