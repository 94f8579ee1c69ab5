package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/gurkanbulca/taskboard/internal/config"
	"github.com/gurkanbulca/taskboard/internal/database"
	"github.com/gurkanbulca/taskboard/internal/logging"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Server.Environment, cfg.Server.LogLevel)
	if envErr != nil {
		log.Debug().Msg("No .env file found")
	}

	var db *database.DB
	if cfg.Database.Driver == "sqlite3" {
		db, err = database.OpenSQLite(fmt.Sprintf("file:%s?_fk=1", cfg.Database.SQLitePath), log)
	} else {
		db, err = database.Open(cfg.ToDatabaseConfig(), log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("✅ Migrations completed successfully!")
}
