package organisation_repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SqlOrganisationLocator struct {
	database     *sql.DB
	queryTimeout time.Duration
}

func NewSqlOrganisationLocator(database *sql.DB, queryTimeout time.Duration) (*SqlOrganisationLocator, error) {
	return &SqlOrganisationLocator{
		database:     database,
		queryTimeout: queryTimeout,
	}, nil
}

func (sol *SqlOrganisationLocator) FindByID(ctx context.Context, orgID domain.OrganisationID) (domain.Organisation, error) {

	var org domain.Organisation

	callDurationTimer := prometheus.NewTimer(metrics.sqlOrganisationLookupDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID})

	ctx, cancel := context.WithTimeout(ctx, sol.queryTimeout)
	defer cancel()

	statement, err := sol.database.Prepare(
		`SELECT vendor, install_id, region, encrypted_credentials, attributes, created_at, updated_at
            FROM organisations WHERE id = $1`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return org, err
	}
	defer statement.Close()

	var vendor string
	var installID string
	var region sql.NullString
	var encryptedCredentials string
	var attributesString sql.NullString
	var createdAt time.Time
	var updatedAt time.Time

	err = statement.QueryRowContext(ctx, string(orgID)).Scan(&vendor, &installID, &region, &encryptedCredentials, &attributesString, &createdAt, &updatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return org, NotFoundError
		}

		logger.LogWithError(log, "SQL query failed", err)
		return org, err
	}

	org.ID = orgID
	org.Vendor = domain.Vendor(vendor)
	org.InstallID = domain.InstallID(installID)
	org.EncryptedCredentials = encryptedCredentials
	org.CreatedAt = createdAt
	org.UpdatedAt = updatedAt

	if region.Valid {
		org.Region = region.String
	}

	if attributesString.Valid {
		if err := json.Unmarshal([]byte(attributesString.String), &org.Attributes); err != nil {
			logger.LogWithError(log, "Unable to parse routing attributes from database", err)
		}
	}

	return org, nil
}

func (sol *SqlOrganisationLocator) List(ctx context.Context, offset int, limit int) ([]domain.Organisation, int, error) {

	var totalOrganisations int

	callDurationTimer := prometheus.NewTimer(metrics.sqlOrganisationListDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{"offset": offset, "limit": limit})

	ctx, cancel := context.WithTimeout(ctx, sol.queryTimeout)
	defer cancel()

	statement, err := sol.database.Prepare(
		`SELECT id, vendor, install_id, region, attributes, created_at, updated_at, COUNT(*) OVER() FROM organisations
            ORDER BY id
            OFFSET $1
            LIMIT $2`)
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return nil, totalOrganisations, err
	}
	defer statement.Close()

	rows, err := statement.QueryContext(ctx, offset, limit)
	if err != nil {
		logger.LogWithError(log, "SQL query failed", err)
		return nil, totalOrganisations, err
	}
	defer rows.Close()

	organisations := make([]domain.Organisation, 0)

	for rows.Next() {
		var id string
		var vendor string
		var installID string
		var region sql.NullString
		var attributesString sql.NullString
		var createdAt time.Time
		var updatedAt time.Time

		if err := rows.Scan(&id, &vendor, &installID, &region, &attributesString, &createdAt, &updatedAt, &totalOrganisations); err != nil {
			logger.LogWithError(log, "SQL scan failed.  Skipping row.", err)
			continue
		}

		org := domain.Organisation{
			ID:        domain.OrganisationID(id),
			Vendor:    domain.Vendor(vendor),
			InstallID: domain.InstallID(installID),
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		}

		if region.Valid {
			org.Region = region.String
		}

		if attributesString.Valid {
			if err := json.Unmarshal([]byte(attributesString.String), &org.Attributes); err != nil {
				logger.LogWithError(log, "Unable to parse routing attributes from database.  Skipping row.", err)
				continue
			}
		}

		organisations = append(organisations, org)
	}

	return organisations, totalOrganisations, nil
}
