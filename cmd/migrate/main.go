package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/config"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/observability"
	"github.com/hosneyuusef-create/usdt-trading-assistant/internal/persistence"
)

func usage() {
	fmt.Println("Usage: migrate [-config file] <up|down|status>")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list migrations and whether each is applied")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  USDT_POSTGRES_DSN             - Postgres connection string (required)")
	fmt.Println("  USDT_POSTGRES_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
}

func main() {
	configPath := flag.String("config", os.Getenv("USDT_CONFIG"), "path to YAML config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if cfg.Postgres.DSN == "" {
		logger.Fatal().Msg("postgres.dsn is not set")
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, logger)

	switch flag.Arg(0) {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "status":
		states, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		for _, st := range states {
			mark := "pending"
			if st.Applied {
				mark = "applied"
			}
			fmt.Printf("%s  %-8s %s\n", st.Version, mark, st.Name)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use up, down or status)\n", flag.Arg(0))
		os.Exit(1)
	}
}
