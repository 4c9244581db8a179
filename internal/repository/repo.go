package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/obs"
)

const defaultTimeout = 5 * time.Second

// Builder renders squirrel statements with PostgreSQL placeholders.
var Builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Repo is the data-access engine for rows of type T. T declares its columns
// with `db` struct tags matching Schema.Columns.
type Repo[T any] struct {
	db      *sql.DB
	schema  Schema
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Repo.
type Option func(*settings)

type settings struct {
	timeout time.Duration
}

// WithTimeout bounds every call. Zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a repository over db for the table described by schema.
func New[T any](db *sql.DB, schema Schema, opts ...Option) (*Repo[T], error) {
	if db == nil {
		return nil, errors.New("repository: database handle is required")
	}
	schema = schema.withDefaults()
	if err := schema.validate(); err != nil {
		return nil, err
	}
	cfg := settings{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Repo[T]{db: db, schema: schema, timeout: cfg.timeout, now: time.Now}, nil
}

// Schema returns the effective schema after defaults were applied.
func (r *Repo[T]) Schema() Schema { return r.schema }

// FindByID returns the row with the given primary key, or nil when absent.
func (r *Repo[T]) FindByID(ctx context.Context, id string, opts ...ReadOption) (_ *T, err error) {
	defer r.observe("find_by_id", r.now(), &err)
	preds, err := r.predicates(Criteria{r.schema.PrimaryKey: id}, "", collectReadOptions(opts))
	if err != nil {
		return nil, err
	}
	q := r.selectFrom(preds)
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.getOne(ctx, "find_by_id", q)
}

// FindOne returns the first row matching criteria in default order, or nil.
func (r *Repo[T]) FindOne(ctx context.Context, criteria Criteria, opts ...ReadOption) (_ *T, err error) {
	defer r.observe("find_one", r.now(), &err)
	preds, err := r.predicates(criteria, "", collectReadOptions(opts))
	if err != nil {
		return nil, err
	}
	q := r.selectFrom(preds).OrderBy(r.orderBy(r.schema.DefaultSort, r.schema.DefaultOrder)...).Limit(1)
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.getOne(ctx, "find_one", q)
}

// FindOneWhere is FindOne with an extra predicate built by the caller. cond
// must only reference columns of the schema.
func (r *Repo[T]) FindOneWhere(ctx context.Context, cond squirrel.Sqlizer, criteria Criteria, opts ...ReadOption) (_ *T, err error) {
	defer r.observe("find_one", r.now(), &err)
	preds, err := r.predicates(criteria, "", collectReadOptions(opts))
	if err != nil {
		return nil, err
	}
	if cond != nil {
		preds = append(preds, cond)
	}
	q := r.selectFrom(preds).OrderBy(r.orderBy(r.schema.DefaultSort, r.schema.DefaultOrder)...).Limit(1)
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.getOne(ctx, "find_one", q)
}

// FindAll returns every row matching criteria in default order.
func (r *Repo[T]) FindAll(ctx context.Context, criteria Criteria, opts ...ReadOption) (_ []T, err error) {
	defer r.observe("find_all", r.now(), &err)
	preds, err := r.predicates(criteria, "", collectReadOptions(opts))
	if err != nil {
		return nil, err
	}
	q := r.selectFrom(preds).OrderBy(r.orderBy(r.schema.DefaultSort, r.schema.DefaultOrder)...)
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.getMany(ctx, "find_all", q)
}

// Count returns the number of rows FindAll would return for the same input.
func (r *Repo[T]) Count(ctx context.Context, criteria Criteria, opts ...ReadOption) (_ int64, err error) {
	defer r.observe("count", r.now(), &err)
	preds, err := r.predicates(criteria, "", collectReadOptions(opts))
	if err != nil {
		return 0, err
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.count(ctx, preds)
}

// Exists reports whether Count would be positive for the same input.
func (r *Repo[T]) Exists(ctx context.Context, criteria Criteria, opts ...ReadOption) (_ bool, err error) {
	defer r.observe("exists", r.now(), &err)
	preds, err := r.predicates(criteria, "", collectReadOptions(opts))
	if err != nil {
		return false, err
	}
	q := applyWhere(Builder.Select("1").From(r.schema.Table), preds).
		Limit(1).
		Prefix("SELECT EXISTS (").
		Suffix(")")
	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	var found bool
	if err := Conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, Translate(r.op("exists"), err)
	}
	return found, nil
}

// Create inserts values and returns the stored row as re-read from the
// database, so generated ids and server defaults are reflected.
func (r *Repo[T]) Create(ctx context.Context, values Values) (_ *T, err error) {
	defer r.observe("create", r.now(), &err)
	data, err := r.writable(values, true)
	if err != nil {
		return nil, err
	}
	if id, ok := data[r.schema.PrimaryKey]; !ok || id == nil || id == "" {
		data[r.schema.PrimaryKey] = ids.New()
	}
	query, args, err := Builder.Insert(r.schema.Table).
		SetMap(data).
		Suffix("RETURNING " + r.schema.PrimaryKey).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert query: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	var id string
	if err := Conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return nil, Translate(r.op("create"), err)
	}
	created, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errs.Infra(r.op("create"), fmt.Errorf("row %s not readable after insert", id))
	}
	return created, nil
}

// UpdateByID applies a partial update. updated_at is always stamped by the
// database; a caller-supplied value is ignored. Returns nil when no row has id.
func (r *Repo[T]) UpdateByID(ctx context.Context, id string, values Values) (_ *T, err error) {
	defer r.observe("update", r.now(), &err)
	data, err := r.writable(values, false)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 && !r.schema.Timestamps {
		return nil, errs.Validation("%s: nothing to update", r.schema.Table)
	}
	q := Builder.Update(r.schema.Table).SetMap(data)
	if r.schema.Timestamps {
		q = q.Set(UpdatedAtColumn, squirrel.Expr("now()"))
	}
	query, args, err := q.Where(squirrel.Eq{r.schema.PrimaryKey: id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update query: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	res, err := Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return nil, Translate(r.op("update"), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, Translate(r.op("update"), err)
	}
	if affected == 0 {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// SoftDeleteByID stamps deleted_at on a live row. A missing or already
// deleted row is ErrNotFound.
func (r *Repo[T]) SoftDeleteByID(ctx context.Context, id string) (err error) {
	defer r.observe("soft_delete", r.now(), &err)
	if !r.schema.SoftDelete {
		return fmt.Errorf("repository: %s does not support soft delete", r.schema.Table)
	}
	q := Builder.Update(r.schema.Table).Set(DeletedAtColumn, squirrel.Expr("now()"))
	if r.schema.Timestamps {
		q = q.Set(UpdatedAtColumn, squirrel.Expr("now()"))
	}
	query, args, err := q.
		Where(squirrel.Eq{r.schema.PrimaryKey: id}).
		Where(ActiveRecord("")).
		ToSql()
	if err != nil {
		return fmt.Errorf("building soft delete query: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	res, err := Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return Translate(r.op("soft_delete"), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Translate(r.op("soft_delete"), err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %s", errs.ErrNotFound, r.schema.Table, id)
	}
	return nil
}

// predicates is the one place where filters are turned into SQL. List,
// count, exists and pagination all go through it.
func (r *Repo[T]) predicates(criteria Criteria, search string, ro readOptions) ([]squirrel.Sqlizer, error) {
	var preds []squirrel.Sqlizer
	if len(criteria) > 0 {
		eq := make(squirrel.Eq, len(criteria))
		for col, val := range criteria {
			if !slices.Contains(r.schema.Columns, col) {
				return nil, errs.Validation("%s: unknown filter %q", r.schema.Table, col)
			}
			eq[col] = val
		}
		preds = append(preds, eq)
	}
	if p := r.searchPredicate(search); p != nil {
		preds = append(preds, p)
	}
	if ro.onlyActive && r.schema.SoftDelete {
		preds = append(preds, ActiveRecord(""))
	}
	return preds, nil
}

func applyWhere(q squirrel.SelectBuilder, preds []squirrel.Sqlizer) squirrel.SelectBuilder {
	for _, p := range preds {
		q = q.Where(p)
	}
	return q
}

func (r *Repo[T]) selectFrom(preds []squirrel.Sqlizer) squirrel.SelectBuilder {
	return applyWhere(Builder.Select(r.schema.Columns...).From(r.schema.Table), preds)
}

func (r *Repo[T]) count(ctx context.Context, preds []squirrel.Sqlizer) (int64, error) {
	query, args, err := applyWhere(Builder.Select("COUNT(*)").From(r.schema.Table), preds).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}
	var n int64
	if err := Conn(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, Translate(r.op("count"), err)
	}
	return n, nil
}

func (r *Repo[T]) getOne(ctx context.Context, op string, q squirrel.SelectBuilder) (*T, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var row T
	if err := sqlscan.Get(ctx, Conn(ctx, r.db), &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, nil
		}
		return nil, Translate(r.op(op), err)
	}
	return &row, nil
}

func (r *Repo[T]) getMany(ctx context.Context, op string, q squirrel.SelectBuilder) ([]T, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	rows := make([]T, 0)
	if err := sqlscan.Select(ctx, Conn(ctx, r.db), &rows, query, args...); err != nil {
		return nil, Translate(r.op(op), err)
	}
	return rows, nil
}

func (r *Repo[T]) writable(values Values, creating bool) (map[string]any, error) {
	data := make(map[string]any, len(values))
	for col, val := range values {
		if serverOwned(col) {
			continue
		}
		if col == r.schema.PrimaryKey {
			if creating {
				data[col] = val
			}
			continue
		}
		if !slices.Contains(r.schema.Writable, col) {
			return nil, errs.Validation("%s: column %q is not writable", r.schema.Table, col)
		}
		data[col] = val
	}
	return data, nil
}

func (r *Repo[T]) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Repo[T]) op(name string) string {
	return r.schema.Table + "." + name
}

func (r *Repo[T]) observe(op string, started time.Time, err *error) {
	obs.ObserveRepository(r.schema.Table, op, started, *err)
}
