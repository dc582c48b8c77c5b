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
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type SqlOrganisationRegistrar struct {
	database *sql.DB
}

func NewSqlOrganisationRegistrar(database *sql.DB) (*SqlOrganisationRegistrar, error) {
	return &SqlOrganisationRegistrar{
		database: database,
	}, nil
}

func (sor *SqlOrganisationRegistrar) Register(ctx context.Context, org domain.Organisation) (RegistrationResults, error) {

	callDurationTimer := prometheus.NewTimer(metrics.sqlOrganisationRegistrationDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": org.ID, "vendor": org.Vendor})

	attributesString, err := json.Marshal(org.Attributes)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err, "attributes": org.Attributes}).Error("Unable to marshal routing attributes")
		return NewInstallation, err
	}

	var row Organisation
	row.ID = string(org.ID)
	row.Vendor = string(org.Vendor)
	row.InstallID = string(org.InstallID)
	row.Region = org.Region
	row.EncryptedCredentials = org.EncryptedCredentials
	row.Attributes = string(attributesString)
	row.UpdatedAt = time.Now()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sor.database}),
		&gorm.Config{})
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Gorm open failed")
		return NewInstallation, err
	}

	query := gormDB.WithContext(ctx).Table("organisations")

	results := query.Where(Organisation{ID: row.ID}).Assign(row).FirstOrCreate(&row)

	if results.Error != nil {
		log.WithFields(logrus.Fields{"error": results.Error}).Error("SQL query failed")
		return NewInstallation, results.Error
	}

	registrationResults := NewInstallation
	if results.RowsAffected == 0 {
		registrationResults = ExistingInstallation
	}

	log.Debug("Registered an organisation")
	return registrationResults, nil
}

func (sor *SqlOrganisationRegistrar) Unregister(ctx context.Context, orgID domain.OrganisationID) error {

	callDurationTimer := prometheus.NewTimer(metrics.sqlOrganisationUnregistrationDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID})

	statement, err := sor.database.Prepare("DELETE FROM organisations WHERE id = $1")
	if err != nil {
		logger.LogWithError(log, "SQL Prepare failed", err)
		return err
	}
	defer statement.Close()

	_, err = statement.ExecContext(ctx, string(orgID))
	if err != nil {
		logger.LogWithError(log, "SQL query failed", err)
		return err
	}

	log.Debug("Unregistered an organisation")
	return nil
}
