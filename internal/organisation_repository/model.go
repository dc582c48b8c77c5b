package organisation_repository

import (
	"time"
)

type Organisation struct {
	ID                   string `gorm:"primary_key"`
	Vendor               string
	InstallID            string
	Region               string
	EncryptedCredentials string
	Attributes           string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (Organisation) TableName() string {
	return "organisations"
}
