package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"hypogate/adapters/postgres/migrations"
	"hypogate/internal"
	"hypogate/internal/config"
	"hypogate/internal/container"
)

func main() {
	if len(os.Args) < 2 || (os.Args[1] != "up" && os.Args[1] != "status") {
		fmt.Fprintln(os.Stderr, "Usage: migrate <up|status>")
		os.Exit(2)
	}
	_ = godotenv.Load()
	logger := internal.NewDefaultLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := container.OpenDatabase(ctx, config.DatabaseConfig{
		URL:          os.Getenv("DATABASE_URL"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB).WithLogger(func(format string, args ...any) {
		logger.Info().Msgf(format, args...)
	})

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("database is up to date")
	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read migration status")
		}
		for _, s := range statuses {
			state := "pending"
			switch {
			case s.Drifted:
				state = "DRIFTED"
			case s.Applied:
				state = "applied"
			}
			fmt.Printf("%s_%s\t%s\n", s.Version, s.Name, state)
		}
	}
}
