// Package repository is a generic data-access engine over database/sql. One
// Repo[T] serves any table described by a Schema: lookups, criteria
// filtering, whitelisted search and sort, offset pagination and soft delete.
package repository

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"
)

const (
	CreatedAtColumn = "created_at"
	UpdatedAtColumn = "updated_at"
	DeletedAtColumn = "deleted_at"
)

// Values carries column/value pairs for inserts and updates.
type Values map[string]any

// Criteria is a conjunctive exact-match filter. A nil value matches NULL and a
// slice value matches any of its elements.
type Criteria map[string]any

// Schema describes one table. Every column name that reaches SQL text is taken
// from these lists, never from caller input.
type Schema struct {
	Table      string
	PrimaryKey string
	// Columns are selected into T and accepted as criteria keys.
	Columns []string
	// Writable columns may be set by Create and UpdateByID.
	Writable      []string
	SearchColumns []string
	SortColumns   []string
	DefaultSort   string
	// DefaultOrder is "ASC" or "DESC".
	DefaultOrder string
	// SoftDelete marks tables with a deleted_at column.
	SoftDelete bool
	// Timestamps marks tables with created_at/updated_at maintained by the store.
	Timestamps bool
}

func (s Schema) validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return errors.New("repository: table is required")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("repository: %s: columns are required", s.Table)
	}
	if !slices.Contains(s.Columns, s.PrimaryKey) {
		return fmt.Errorf("repository: %s: primary key %q is not a column", s.Table, s.PrimaryKey)
	}
	for _, group := range [][]string{s.Writable, s.SearchColumns, s.SortColumns} {
		for _, col := range group {
			if !slices.Contains(s.Columns, col) {
				return fmt.Errorf("repository: %s: unknown column %q", s.Table, col)
			}
		}
	}
	if s.DefaultSort != "" && !slices.Contains(s.SortColumns, s.DefaultSort) {
		return fmt.Errorf("repository: %s: default sort %q is not sortable", s.Table, s.DefaultSort)
	}
	if s.SoftDelete && !slices.Contains(s.Columns, DeletedAtColumn) {
		return fmt.Errorf("repository: %s: soft delete requires %s", s.Table, DeletedAtColumn)
	}
	return nil
}

func (s Schema) withDefaults() Schema {
	if s.PrimaryKey == "" {
		s.PrimaryKey = "id"
	}
	s.DefaultOrder = strings.ToUpper(strings.TrimSpace(s.DefaultOrder))
	if s.DefaultOrder != "ASC" && s.DefaultOrder != "DESC" {
		s.DefaultOrder = "DESC"
	}
	if s.DefaultSort == "" {
		if s.Timestamps && slices.Contains(s.SortColumns, CreatedAtColumn) {
			s.DefaultSort = CreatedAtColumn
		} else {
			s.DefaultSort = s.PrimaryKey
			if !slices.Contains(s.SortColumns, s.PrimaryKey) {
				s.SortColumns = append(slices.Clone(s.SortColumns), s.PrimaryKey)
			}
		}
	}
	return s
}

func serverOwned(col string) bool {
	return col == CreatedAtColumn || col == UpdatedAtColumn || col == DeletedAtColumn
}

// ActiveRecord is the single predicate that excludes soft-deleted rows. alias
// qualifies the column for joined queries and may be empty.
func ActiveRecord(alias string) squirrel.Sqlizer {
	col := DeletedAtColumn
	if alias != "" {
		col = alias + "." + col
	}
	return squirrel.Eq{col: nil}
}

// ReadOption adjusts a read query.
type ReadOption func(*readOptions)

type readOptions struct {
	onlyActive bool
}

// OnlyActive hides soft-deleted rows. Reads include them unless asked.
func OnlyActive() ReadOption {
	return func(o *readOptions) { o.onlyActive = true }
}

func collectReadOptions(opts []ReadOption) readOptions {
	var ro readOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}
	return ro
}
