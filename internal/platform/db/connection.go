package db

import (
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/identity-sync/saas-connector/internal/config"

	_ "github.com/lib/pq"
)

func initializePostgresConnection(cfg *config.Config) (*sql.DB, error) {
	psqlConnectionInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s TimeZone=UTC",
		cfg.OrganisationDatabaseHost,
		cfg.OrganisationDatabasePort,
		cfg.OrganisationDatabaseUser,
		cfg.OrganisationDatabasePassword,
		cfg.OrganisationDatabaseName)

	sslSettings, err := buildPostgresSslConfigString(cfg)
	if err != nil {
		return nil, err
	}

	psqlConnectionInfo += " " + sslSettings

	return sql.Open("postgres", psqlConnectionInfo)
}

func buildPostgresSslConfigString(cfg *config.Config) (string, error) {
	if cfg.OrganisationDatabaseSslMode == "disable" {
		return "sslmode=disable", nil
	} else if cfg.OrganisationDatabaseSslMode == "verify-full" {
		return "sslmode=verify-full sslrootcert=" + cfg.OrganisationDatabaseSslCert, nil
	} else {
		return "", errors.New("Invalid SSL configuration for database connection: " + cfg.OrganisationDatabaseSslMode)
	}
}

func InitializeDatabaseConnection(cfg *config.Config) (*sql.DB, error) {

	if cfg.OrganisationDatabaseImpl != "postgres" {
		return nil, errors.New("Invalid SQL database impl requested")
	}

	return initializePostgresConnection(cfg)
}

func InitializeGormDatabaseConnection(cfg *config.Config) (*gorm.DB, error) {

	sqlDatabase, err := InitializeDatabaseConnection(cfg)
	if err != nil {
		return nil, err
	}

	return gorm.Open(postgres.New(postgres.Config{Conn: sqlDatabase}), &gorm.Config{})
}
