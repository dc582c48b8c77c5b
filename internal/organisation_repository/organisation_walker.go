package organisation_repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"gorm.io/gorm"
)

// ProcessAllOrganisations walks the organisations table in id order, invoking
// processOrganisation for every row.  Rows are read in chunks so the
// scheduler never holds the whole table in memory.
func ProcessAllOrganisations(ctx context.Context, databaseConn *gorm.DB, sqlTimeout time.Duration, chunkSize int, processOrganisation OrganisationProcessor) error {

	lastSeenID := ""

	for {
		previousID := lastSeenID

		rowCount, err := processOrganisationChunk(ctx, databaseConn, sqlTimeout, chunkSize, &lastSeenID, processOrganisation)
		if err != nil {
			return err
		}

		if rowCount < chunkSize {
			return nil
		}

		if lastSeenID == previousID {
			return errors.New("organisation walk made no progress over a full chunk")
		}
	}
}

func processOrganisationChunk(ctx context.Context, databaseConn *gorm.DB, sqlTimeout time.Duration, chunkSize int, lastSeenID *string, processOrganisation OrganisationProcessor) (int, error) {

	queryCtx, cancel := context.WithTimeout(ctx, sqlTimeout)
	defer cancel()

	rows, err := databaseConn.WithContext(queryCtx).
		Table("organisations").
		Select("id", "vendor", "install_id", "region", "attributes").
		Where("id > ?", *lastSeenID).
		Order("id asc").
		Limit(chunkSize).
		Rows()

	if err != nil {
		logger.LogError("SQL query failed", err)
		return 0, err
	}
	defer rows.Close()

	rowCount := 0

	for rows.Next() {
		// Count every row the query returned, scannable or not, so one bad
		// row never makes a full chunk look like the last one.
		rowCount++

		var id string
		var vendor string
		var installID string
		var region sql.NullString
		var attributesString sql.NullString

		if err := rows.Scan(&id, &vendor, &installID, &region, &attributesString); err != nil {
			logger.LogError("SQL scan failed.  Skipping row.", err)
			continue
		}

		*lastSeenID = id

		org := domain.Organisation{
			ID:        domain.OrganisationID(id),
			Vendor:    domain.Vendor(vendor),
			InstallID: domain.InstallID(installID),
		}

		if region.Valid {
			org.Region = region.String
		}

		if attributesString.Valid {
			if err := json.Unmarshal([]byte(attributesString.String), &org.Attributes); err != nil {
				logger.LogError("Unable to parse routing attributes from database.  Skipping organisation.", err)
				continue
			}
		}

		processOrganisation(ctx, org)
	}

	return rowCount, nil
}
