package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/catalog"
	"gatehouse.dev/internal/config"
	"gatehouse.dev/internal/gate"
	"gatehouse.dev/internal/grpcapi"
	"gatehouse.dev/internal/httpapi"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gatehouse:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.SetBuildInfo(version, commit)

	db, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	store, err := pg.New(db, pg.WithQueryTimeout(cfg.Database.QueryTimeout))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = auth.ValidateCatalog(startupCtx, store)
	cancel()
	if err != nil {
		return fmt.Errorf("permission catalog: %w (run `migrate up` and `migrate seed`)", err)
	}

	api, err := buildAPI(cfg, store, logger)
	if err != nil {
		return err
	}
	health, err := grpcapi.New(store, grpcapi.WithLogger(logger.Named("grpc")))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error { return health.Serve(lis) })
	g.Go(func() error {
		health.Watch(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		health.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

func buildAPI(cfg *config.Config, store *pg.Store, logger *zap.Logger) (*httpapi.API, error) {
	hasher, err := auth.NewHasher(cfg.Security.BcryptCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(cfg.Token.AccessSecret, cfg.Token.RefreshSecret,
		auth.WithAccessTTL(cfg.Token.AccessTTL),
		auth.WithRefreshTTL(cfg.Token.RefreshTTL),
		auth.WithIssuer(cfg.Token.Issuer),
	)
	if err != nil {
		return nil, err
	}
	resolver, err := auth.NewResolver(store)
	if err != nil {
		return nil, err
	}
	authSvc, err := auth.NewService(store, resolver, hasher, tokens,
		auth.WithLogger(logger.Named("auth")),
		auth.WithHashedAPIKeys(cfg.Security.HashAPIKeys),
		auth.WithDefaultRole(auth.RoleSlug(cfg.Security.DefaultRole)),
	)
	if err != nil {
		return nil, err
	}
	admin, err := auth.NewRBACService(store)
	if err != nil {
		return nil, err
	}
	products, err := catalog.NewService(store, catalog.WithLogger(logger.Named("catalog")))
	if err != nil {
		return nil, err
	}
	g, err := gate.New(tokens, authSvc, resolver, gate.WithLogger(logger.Named("gate")))
	if err != nil {
		return nil, err
	}
	return httpapi.New(httpapi.Deps{
		Auth:     authSvc,
		Admin:    admin,
		Products: products,
		Gate:     g,
		Ready:    store,
		Logger:   logger.Named("http"),
		Version:  version,
	}, httpapi.Options{
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		AuthRPS:        cfg.HTTP.AuthRPS,
		AuthBurst:      cfg.HTTP.AuthBurst,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
}
