package postgres

import (
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func getDBConnString(opts *PostgresConfig) string {
	if opts.DBName == "" {
		return GetDefaultConnString()
	}
	return GetConnString(opts)
}

func NewDBConn(opts *PostgresConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", getDBConnString(opts))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewDBConnFromDSN is used by integration tests that receive a ready DSN.
func NewDBConnFromDSN(dsn string) (*sqlx.DB, error) {
	return sqlx.Connect("postgres", dsn)
}
