package pg

import (
	"context"

	"gatehouse.dev/internal/catalog"
	"gatehouse.dev/internal/repository"
)

func (s *Store) ListProducts(ctx context.Context, req repository.PageRequest) (repository.Page[catalog.Product], error) {
	return s.products.Paginate(ctx, req)
}

func (s *Store) ProductByID(ctx context.Context, id string) (*catalog.Product, error) {
	return s.products.FindByID(ctx, id, repository.OnlyActive())
}

func (s *Store) CreateProduct(ctx context.Context, values repository.Values) (*catalog.Product, error) {
	return s.products.Create(ctx, values)
}

func (s *Store) UpdateProduct(ctx context.Context, id string, values repository.Values) (*catalog.Product, error) {
	return s.products.UpdateByID(ctx, id, values)
}

func (s *Store) SoftDeleteProduct(ctx context.Context, id string) error {
	return s.products.SoftDeleteByID(ctx, id)
}

func (s *Store) ImportProducts(ctx context.Context, rows []repository.Values) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(rows))
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		var fresh []repository.Values
		for _, row := range rows {
			if id, _ := row["id"].(string); id == "" {
				fresh = append(fresh, row)
				continue
			}
			p, err := s.products.Upsert(ctx, row, "id")
			if err != nil {
				return err
			}
			out = append(out, *p)
		}
		created, err := s.products.CreateMany(ctx, fresh)
		if err != nil {
			return err
		}
		out = append(out, created...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
