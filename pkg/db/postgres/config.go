package postgres

import (
	"fmt"
	"net/url"
	"os"
)

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func NewPostgresConfig(fallbackDBName string) *PostgresConfig {
	var postgres PostgresConfig

	postgres.Host = getEnv("POSTGRES_HOSTS", "localhost")
	postgres.Port = getEnv("POSTGRES_PORT", "5452")
	postgres.User = getEnv("POSTGRES_USER", "user")
	postgres.Password = getEnv("POSTGRES_PASSWORD", "pass")
	postgres.DBName = getEnv("POSTGRES_DATABASE", fallbackDBName)
	postgres.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")

	return &postgres
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func GetDefaultConnString() string {
	return "host=localhost port=5452 user=user password=pass dbname=payments sslmode=disable"
}

func GetConnString(options *PostgresConfig) string {
	sslMode := options.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s", options.Host, options.Port, options.User, options.Password, options.DBName, sslMode)
}

// GetURL returns the URL form expected by golang-migrate.
func GetURL(options *PostgresConfig) string {
	sslMode := options.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(options.User, options.Password),
		Host:     fmt.Sprintf("%s:%s", options.Host, options.Port),
		Path:     options.DBName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}
