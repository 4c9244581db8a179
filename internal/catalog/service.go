package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/repository"
	"gatehouse.dev/internal/validation"
)

// Service implements product CRUD.
type Service struct {
	store  Store
	logger *zap.Logger
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("catalog store is required")
	}
	s := &Service{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) List(ctx context.Context, q ProductQuery) (repository.Page[Product], error) {
	return s.store.ListProducts(ctx, repository.PageRequest{
		Page:       q.Page,
		Limit:      q.Limit,
		Search:     q.Search,
		SortBy:     q.SortBy,
		SortOrder:  q.SortOrder,
		OnlyActive: true,
	})
}

func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errs.Validation("product id is required")
	}
	p, err := s.store.ProductByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.DeletedAt != nil {
		return nil, fmt.Errorf("%w: product %s", errs.ErrNotFound, id)
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, in ProductInput) (*Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = trimmed(in.Description)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	p, err := s.store.CreateProduct(ctx, repository.Values{
		"name":        in.Name,
		"description": in.Description,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("product created", zap.String("product_id", p.ID))
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, upd ProductUpdate) (*Product, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		upd.Name = &name
	}
	upd.Description = trimmed(upd.Description)
	if err := validation.Struct(upd); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	values := repository.Values{}
	if upd.Name != nil {
		values["name"] = *upd.Name
	}
	if upd.Description != nil {
		values["description"] = *upd.Description
	}
	p, err := s.store.UpdateProduct(ctx, id, values)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: product %s", errs.ErrNotFound, id)
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.SoftDeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.String("product_id", id))
	return nil
}

// Import creates or replaces up to MaxImportBatch products in one unit.
func (s *Service) Import(ctx context.Context, items []ProductImport) ([]Product, error) {
	seen := make(map[string]bool, len(items))
	for i := range items {
		items[i].ID = strings.TrimSpace(items[i].ID)
		items[i].Name = strings.TrimSpace(items[i].Name)
		items[i].Description = trimmed(items[i].Description)
		if id := items[i].ID; id != "" {
			if seen[id] {
				return nil, errs.Validation("product %s appears more than once", id)
			}
			seen[id] = true
		}
	}
	if err := validation.Struct(importBatch{Items: items}); err != nil {
		return nil, err
	}
	rows := make([]repository.Values, 0, len(items))
	for _, it := range items {
		row := repository.Values{"name": it.Name, "description": it.Description}
		if it.ID != "" {
			row["id"] = it.ID
		}
		rows = append(rows, row)
	}
	out, err := s.store.ImportProducts(ctx, rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("products imported", zap.Int("count", len(out)), zap.Int("replaced", len(seen)))
	return out, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
