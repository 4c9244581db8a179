package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// PageRequest is the pagination contract consumed from the HTTP layer.
type PageRequest struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
	Criteria  Criteria
	// OnlyActive hides soft-deleted rows.
	OnlyActive bool
}

// Normalize clamps page to >= 1 and limit to [1, MaxPageLimit].
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	switch {
	case p.Limit < 1:
		p.Limit = DefaultPageLimit
	case p.Limit > MaxPageLimit:
		p.Limit = MaxPageLimit
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

func (p PageRequest) offset() uint64 {
	return uint64(p.Page-1) * uint64(p.Limit)
}

type PageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

type Page[T any] struct {
	Data []T     `json:"data"`
	Meta PageMeta `json:"meta"`
}

// TotalPages is ceil(total/limit).
func TotalPages(total int64, limit int) int64 {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

// Paginate counts the filtered rows, then reads one page of them. Both
// queries share the same predicate so the total always describes the data.
func (r *Repo[T]) Paginate(ctx context.Context, req PageRequest) (_ Page[T], err error) {
	defer r.observe("paginate", r.now(), &err)
	req = req.Normalize()
	preds, err := r.predicates(req.Criteria, req.Search, readOptions{onlyActive: req.OnlyActive})
	if err != nil {
		return Page[T]{}, err
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	total, err := r.count(ctx, preds)
	if err != nil {
		return Page[T]{}, err
	}
	page := Page[T]{
		Data: make([]T, 0),
		Meta: PageMeta{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: TotalPages(total, req.Limit),
		},
	}
	if total == 0 || req.offset() >= uint64(total) {
		return page, nil
	}

	q := r.selectFrom(preds).
		OrderBy(r.orderBy(req.SortBy, req.SortOrder)...).
		Limit(uint64(req.Limit)).
		Offset(req.offset())
	rows, err := r.getMany(ctx, "paginate", q)
	if err != nil {
		return Page[T]{}, err
	}
	page.Data = rows
	return page, nil
}

// orderBy resolves sortBy against the whitelist, falling back to the default
// sort, and appends the primary key so equal sort values page stably.
func (r *Repo[T]) orderBy(sortBy, sortOrder string) []string {
	col := strings.TrimSpace(sortBy)
	if !slices.Contains(r.schema.SortColumns, col) {
		col = r.schema.DefaultSort
	}
	dir := strings.ToUpper(strings.TrimSpace(sortOrder))
	if dir != "ASC" && dir != "DESC" {
		dir = r.schema.DefaultOrder
	}
	clauses := []string{fmt.Sprintf("%s %s", col, dir)}
	if col != r.schema.PrimaryKey {
		clauses = append(clauses, r.schema.PrimaryKey+" ASC")
	}
	return clauses
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchPredicate ORs a case-insensitive substring match over SearchColumns.
func (r *Repo[T]) searchPredicate(term string) squirrel.Sqlizer {
	term = strings.TrimSpace(term)
	if term == "" || len(r.schema.SearchColumns) == 0 {
		return nil
	}
	pattern := "%" + likeEscaper.Replace(term) + "%"
	or := make(squirrel.Or, 0, len(r.schema.SearchColumns))
	for _, col := range r.schema.SearchColumns {
		or = append(or, squirrel.ILike{col: pattern})
	}
	return or
}
