package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/ids"
)

// maxBindParams is the PostgreSQL limit on placeholders per statement.
const maxBindParams = 65535

// CreateMany inserts rows in one statement and returns the stored rows in
// default order. Every row must set the same columns; a row without a
// primary key gets a generated one.
func (r *Repo[T]) CreateMany(ctx context.Context, rows []Values) (_ []T, err error) {
	defer r.observe("create_many", r.now(), &err)
	if len(rows) == 0 {
		return []T{}, nil
	}
	q := Builder.Insert(r.schema.Table)
	var cols []string
	keys := make([]string, 0, len(rows))
	for i, values := range rows {
		data, id, err := r.insertData(values)
		if err != nil {
			return nil, err
		}
		rowCols := slices.Sorted(maps.Keys(data))
		if cols == nil {
			cols = rowCols
			if len(rows)*len(cols) > maxBindParams {
				return nil, errs.Validation("%s: batch of %d rows is too large", r.schema.Table, len(rows))
			}
			q = q.Columns(cols...)
		} else if !slices.Equal(cols, rowCols) {
			return nil, errs.Validation("%s: row %d sets different columns than row 0", r.schema.Table, i)
		}
		vals := make([]any, len(cols))
		for j, c := range cols {
			vals[j] = data[c]
		}
		q = q.Values(vals...)
		keys = append(keys, id)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building bulk insert query: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if _, err := Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		return nil, Translate(r.op("create_many"), err)
	}
	sel := r.selectFrom([]squirrel.Sqlizer{squirrel.Eq{r.schema.PrimaryKey: keys}}).
		OrderBy(r.orderBy(r.schema.DefaultSort, r.schema.DefaultOrder)...)
	return r.getMany(ctx, "create_many", sel)
}

// Upsert inserts values, or updates the row that already holds the same
// conflict columns with the other columns values carries. A soft deleted row
// is revived. The stored row is re-read and returned.
func (r *Repo[T]) Upsert(ctx context.Context, values Values, conflict ...string) (_ *T, err error) {
	defer r.observe("upsert", r.now(), &err)
	if len(conflict) == 0 {
		return nil, fmt.Errorf("repository: %s upsert needs conflict columns", r.schema.Table)
	}
	for _, c := range conflict {
		if !slices.Contains(r.schema.Columns, c) {
			return nil, errs.Validation("%s: unknown conflict column %q", r.schema.Table, c)
		}
	}
	data, _, err := r.insertData(values)
	if err != nil {
		return nil, err
	}
	cols := slices.Sorted(maps.Keys(data))
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = data[c]
	}

	var set []string
	for _, c := range cols {
		if c == r.schema.PrimaryKey || slices.Contains(conflict, c) {
			continue
		}
		set = append(set, c+" = EXCLUDED."+c)
	}
	if r.schema.Timestamps {
		set = append(set, UpdatedAtColumn+" = now()")
	}
	if r.schema.SoftDelete {
		set = append(set, DeletedAtColumn+" = NULL")
	}
	if len(set) == 0 {
		// DO NOTHING would return no row
		set = append(set, conflict[0]+" = EXCLUDED."+conflict[0])
	}

	query, args, err := Builder.Insert(r.schema.Table).
		Columns(cols...).
		Values(vals...).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s",
			strings.Join(conflict, ", "), strings.Join(set, ", "), r.schema.PrimaryKey)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building upsert query: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	var id string
	if err := Conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return nil, Translate(r.op("upsert"), err)
	}
	stored, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, errs.Infra(r.op("upsert"), fmt.Errorf("row %s not readable after upsert", id))
	}
	return stored, nil
}

// insertData filters values to insertable columns and fills in the primary key.
func (r *Repo[T]) insertData(values Values) (map[string]any, string, error) {
	data, err := r.writable(values, true)
	if err != nil {
		return nil, "", err
	}
	switch id := data[r.schema.PrimaryKey].(type) {
	case nil:
		data[r.schema.PrimaryKey] = ids.New()
	case string:
		if id == "" {
			data[r.schema.PrimaryKey] = ids.New()
		}
	default:
		return nil, "", errs.Validation("%s: %s must be a string", r.schema.Table, r.schema.PrimaryKey)
	}
	return data, data[r.schema.PrimaryKey].(string), nil
}
