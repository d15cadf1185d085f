package main

import (
	"context"
	"errors"
	"os"

	"github.com/dennisjooo/moodlist-sub000/internal/metrics"
	"github.com/dennisjooo/moodlist-sub000/internal/repositories"
	"github.com/dennisjooo/moodlist-sub000/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat("config.toml"); err == nil {
		if loadedConfig, err := shared.LoadConfig("config.toml"); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "error", err)
		}
	}
	if err := config.ApplyEnv(".env"); err != nil {
		logger.Warn("failed to apply environment overrides", "error", err)
	}

	var sessions *repositories.SessionRepository
	if db, err := shared.OpenDatabase(config.Database); err == nil {
		defer db.Close()
		sessions = repositories.NewSessionRepository(db)
	} else {
		logger.Warn("session cache unavailable", "path", config.Database.Path, "error", err)
	}

	runner := NewRunner(RunnerOpts{
		Config:   config,
		Sessions: sessions,
		Metrics:  metrics.New(),
		Logger:   logger,
	})

	app := &cli.Command{
		Name:     "moodlist",
		Usage:    "Start mood playlist workflows and follow their progress",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		err_ := errors.Unwrap(err)
		if errors.Is(err_, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		} else {
			logger.Fatalf("application error: %v", err)
		}
	}
}
