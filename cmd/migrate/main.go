package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gatehouse.dev/internal/migrate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/store/pg"
	"gatehouse.dev/ops/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("GATEHOUSE_DATABASE_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall deadline")
		verbose = flag.Bool("v", false, "Log each applied file")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or GATEHOUSE_DATABASE_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	level := "warn"
	if *verbose {
		level = "info"
	}
	logger, err := obs.NewLogger("development", level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr, err := migrate.NewManager(db, migrations.FS, migrate.WithLogger(logger))
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var names []string
	switch flag.Arg(0) {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}
