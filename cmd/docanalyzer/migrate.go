package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kiranshivaraju/docanalyzer/internal/store"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Flags: []cli.Flag{databaseURLFlag(), logLevelFlag()},
				Action: func(_ context.Context, cmd *cli.Command) error {
					setupLogging(cmd.String("log-level"))
					url, err := databaseURL(cmd)
					if err != nil {
						return err
					}
					if err := store.RunMigrations(url); err != nil {
						return err
					}
					slog.Info("migrations applied")
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Roll back the last migration",
				Flags: []cli.Flag{databaseURLFlag(), logLevelFlag()},
				Action: func(_ context.Context, cmd *cli.Command) error {
					setupLogging(cmd.String("log-level"))
					url, err := databaseURL(cmd)
					if err != nil {
						return err
					}
					if err := store.RollbackMigration(url); err != nil {
						return err
					}
					slog.Info("migration rolled back")
					return nil
				},
			},
		},
	}
}

func databaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database-url",
		Usage:   "PostgreSQL connection URL",
		Sources: cli.EnvVars("DATABASE_URL"),
	}
}

func databaseURL(cmd *cli.Command) (string, error) {
	url := cmd.String("database-url")
	if url == "" {
		return "", errors.New("database URL is required (--database-url or DATABASE_URL)")
	}
	return url, nil
}
