// Package catalog manages the product resource served behind the request
// gate.
package catalog

import (
	"context"
	"time"

	"gatehouse.dev/internal/repository"
)

// Product is a catalog entry.
type Product struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description *string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time `json:"-" db:"deleted_at"`
}

// ProductInput is the create payload.
type ProductInput struct {
	Name        string  `json:"name" validate:"required,min=2,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
}

// ProductUpdate is a partial update; nil fields are left unchanged.
type ProductUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=2,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
}

// MaxImportBatch bounds the number of rows one import may carry.
const MaxImportBatch = 100

// ProductImport is one row of a bulk import. A row with an id replaces that
// product, reviving it if deleted; a row without one is created.
type ProductImport struct {
	ID          string  `json:"id,omitempty" validate:"omitempty,max=64"`
	Name        string  `json:"name" validate:"required,min=2,max=255"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=2000"`
}

type importBatch struct {
	Items []ProductImport `json:"items" validate:"required,min=1,max=100,dive"`
}

// ProductQuery filters the product listing.
type ProductQuery struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
}

// Store persists products. ProductByID and UpdateProduct return nil when no
// live row has the id.
type Store interface {
	ListProducts(ctx context.Context, req repository.PageRequest) (repository.Page[Product], error)
	ProductByID(ctx context.Context, id string) (*Product, error)
	CreateProduct(ctx context.Context, values repository.Values) (*Product, error)
	UpdateProduct(ctx context.Context, id string, values repository.Values) (*Product, error)
	SoftDeleteProduct(ctx context.Context, id string) error
	// ImportProducts applies rows atomically. Rows carrying an id are
	// upserted on it; the rest are inserted together.
	ImportProducts(ctx context.Context, rows []repository.Values) ([]Product, error)
}
