package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/k-code-yt/payment-saga/pkg/db/postgres"
	"github.com/k-code-yt/payment-saga/pkg/logger"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func createDatabase(cfg *postgres.PostgresConfig) error {
	admin := *cfg
	admin.DBName = "postgres"

	db, err := sql.Open("postgres", postgres.GetConnString(&admin))
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE %s", cfg.DBName))
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			logrus.WithField("db", cfg.DBName).Info("MIGRATE:DB_EXISTS")
			return nil
		}
		return fmt.Errorf("failed to create database: %w", err)
	}
	logrus.WithField("db", cfg.DBName).Info("MIGRATE:DB_CREATED")
	return nil
}

func main() {
	envPath := flag.String("env", filepath.Join("cmd", "payment-server", ".env"), "path to the .env file")
	dir := flag.String("dir", filepath.Join("migrations", "payment"), "migrations directory")
	action := flag.String("action", "up", "Migration action: up, down, or version")
	steps := flag.Int("steps", 0, "Number of migrations to roll back (for down)")
	flag.Parse()

	logger.Init("info", "text")
	if err := godotenv.Load(*envPath); err != nil {
		logrus.WithField("path", *envPath).Warn("MIGRATE:NO_ENV_FILE, using environment variables")
	}

	cfg := postgres.NewPostgresConfig("payments")
	if err := createDatabase(cfg); err != nil {
		logrus.Fatalf("MIGRATE:SETUP:FAILED %v", err)
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", *dir), postgres.GetURL(cfg))
	if err != nil {
		logrus.Fatalf("MIGRATE:INIT:FAILED %v", err)
	}
	defer m.Close()

	switch *action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logrus.Fatalf("MIGRATE:UP:FAILED %v", err)
		}
	case "down":
		if *steps > 0 {
			err = m.Steps(-*steps)
		} else {
			err = m.Down()
		}
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logrus.Fatalf("MIGRATE:DOWN:FAILED %v", err)
		}
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logrus.Fatalf("MIGRATE:VERSION:FAILED %v", err)
		}
		logrus.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("MIGRATE:VERSION")
		return
	default:
		logrus.Fatalf("unknown action %q (use up, down, or version)", *action)
	}
	logrus.WithField("action", *action).Info("MIGRATE:DONE")
}
