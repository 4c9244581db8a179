// Package pg is the PostgreSQL implementation of the auth and catalog stores.
// Plain CRUD goes through repository.Repo; the permission graph is answered
// with joins.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/catalog"
	"gatehouse.dev/internal/repository"
)

const defaultQueryTimeout = 5 * time.Second

// Store implements the auth stores and catalog.Store.
type Store struct {
	db      *sql.DB
	tx      *repository.TxManager
	timeout time.Duration

	users       *repository.Repo[auth.Principal]
	roles       *repository.Repo[auth.Role]
	permissions *repository.Repo[auth.Permission]
	apiKeys     *repository.Repo[auth.APIKey]
	products    *repository.Repo[catalog.Product]
}

var (
	_ auth.Store      = (*Store)(nil)
	_ auth.GraphStore = (*Store)(nil)
	_ auth.RBACStore  = (*Store)(nil)
	_ catalog.Store   = (*Store)(nil)
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool is used for zero fields of a PoolConfig.
var DefaultPool = PoolConfig{
	MaxOpenConns:    50,
	MaxIdleConns:    25,
	ConnMaxLifetime: 15 * time.Minute,
	ConnMaxIdleTime: 5 * time.Minute,
}

// Open connects through the pgx stdlib driver and applies pool settings.
func Open(dsn string, pool PoolConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("pg: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = DefaultPool.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = DefaultPool.MaxIdleConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = DefaultPool.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = DefaultPool.ConnMaxIdleTime
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return db, nil
}

// Option configures a Store.
type Option func(*Store)

// WithQueryTimeout bounds every statement issued by the store.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a Store over an open pool.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("pg: database handle is required")
	}
	s := &Store{db: db, tx: repository.NewTxManager(db), timeout: defaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.users, err = repository.New[auth.Principal](db, usersSchema, repository.WithTimeout(s.timeout)); err != nil {
		return nil, err
	}
	if s.roles, err = repository.New[auth.Role](db, rolesSchema, repository.WithTimeout(s.timeout)); err != nil {
		return nil, err
	}
	if s.permissions, err = repository.New[auth.Permission](db, permissionsSchema, repository.WithTimeout(s.timeout)); err != nil {
		return nil, err
	}
	if s.apiKeys, err = repository.New[auth.APIKey](db, apiKeysSchema, repository.WithTimeout(s.timeout)); err != nil {
		return nil, err
	}
	if s.products, err = repository.New[catalog.Product](db, productsSchema, repository.WithTimeout(s.timeout)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks that the database answers within the query timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return repository.Translate("pg.ping", s.db.PingContext(ctx))
}

// WithinTx runs fn in one transaction shared by every store call made with
// the ctx handed to fn.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.WithinTx(ctx, fn)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) conn(ctx context.Context) repository.Querier {
	return repository.Conn(ctx, s.db)
}
