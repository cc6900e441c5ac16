// Command migrate-schema applies the embedded database migrations.
//
// Usage:
//
//	migrate-schema [up|down|status|version|pending|up-to <version>]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/migrate"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout for the command")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate-schema [flags] up|down|status|version|pending|up-to <version>")
		flag.PrintDefaults()
	}
	flag.Parse()

	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(flag.Args(), *timeout, log); err != nil {
		log.Error("migration command failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(args []string, timeout time.Duration, log *zap.Logger) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}

	var db config.DatabaseConfig
	if err := env.Parse(&db); err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}

	sqlDB, err := sql.Open("pgx", db.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	m := migrate.NewMigrator(sqlDB, log)

	switch command {
	case "up":
		return m.Up(ctx)
	case "down":
		return m.Down(ctx)
	case "status":
		return m.Status(ctx)
	case "version":
		v, err := m.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	case "pending":
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		for _, v := range pending {
			fmt.Println(v)
		}
		return nil
	case "up-to":
		if len(args) < 2 {
			return fmt.Errorf("up-to requires a version")
		}
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		return m.UpTo(ctx, v)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
