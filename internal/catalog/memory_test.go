package catalog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/repository"
)

// memStore is a map-backed Store for service tests.
type memStore struct {
	mu       sync.RWMutex
	products map[string]*Product
	now      func() time.Time
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]*Product),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *memStore) ListProducts(_ context.Context, req repository.PageRequest) (repository.Page[Product], error) {
	req = req.Normalize()
	term := strings.ToLower(req.Search)

	s.mu.RLock()
	matched := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		if req.OnlyActive && p.DeletedAt != nil {
			continue
		}
		if term != "" && !matches(p, term) {
			continue
		}
		matched = append(matched, *p)
	}
	s.mu.RUnlock()

	desc := !strings.EqualFold(req.SortOrder, "asc")
	slices.SortFunc(matched, func(a, b Product) int {
		var c int
		if req.SortBy == "name" {
			c = cmp.Compare(a.Name, b.Name)
		} else {
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if desc {
			c = -c
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		return c
	})

	total := int64(len(matched))
	start := min((req.Page-1)*req.Limit, len(matched))
	end := min(start+req.Limit, len(matched))
	return repository.Page[Product]{
		Data: matched[start:end],
		Meta: repository.PageMeta{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: repository.TotalPages(total, req.Limit),
		},
	}, nil
}

func matches(p *Product, term string) bool {
	if strings.Contains(strings.ToLower(p.Name), term) {
		return true
	}
	return p.Description != nil && strings.Contains(strings.ToLower(*p.Description), term)
}

func (s *memStore) ProductByID(_ context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (s *memStore) CreateProduct(_ context.Context, values repository.Values) (*Product, error) {
	name, _ := values["name"].(string)
	if name == "" {
		return nil, errs.Validation("name is required")
	}
	now := s.now()
	p := &Product{ID: ids.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	p.Description = description(values["description"])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	out := *p
	return &out, nil
}

func (s *memStore) UpdateProduct(_ context.Context, id string, values repository.Values) (*Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	if v, ok := values["name"].(string); ok {
		p.Name = v
	}
	if _, ok := values["description"]; ok {
		p.Description = description(values["description"])
	}
	p.UpdatedAt = s.now()
	out := *p
	return &out, nil
}

func (s *memStore) SoftDeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok || p.DeletedAt != nil {
		return fmt.Errorf("%w: products %s", errs.ErrNotFound, id)
	}
	now := s.now()
	p.DeletedAt = &now
	p.UpdatedAt = now
	return nil
}

func (s *memStore) ImportProducts(_ context.Context, rows []repository.Values) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Product, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		if id == "" {
			id = ids.New()
		}
		p, ok := s.products[id]
		if !ok {
			p = &Product{ID: id, CreatedAt: now}
			s.products[id] = p
		}
		p.Name, _ = row["name"].(string)
		p.Description = description(row["description"])
		p.UpdatedAt = now
		p.DeletedAt = nil
		out = append(out, *p)
	}
	return out, nil
}

func description(v any) *string {
	switch d := v.(type) {
	case string:
		return &d
	case *string:
		if d == nil {
			return nil
		}
		out := *d
		return &out
	}
	return nil
}
