package organisation_repository

import (
	"context"
	"errors"

	"github.com/identity-sync/saas-connector/internal/domain"
)

type RegistrationResults int

const (
	NewInstallation RegistrationResults = iota
	ExistingInstallation
)

var NotFoundError = errors.New("organisation not found")

// OrganisationRegistrar writes organisation credential rows.  Register is an
// upsert: at most one row exists per organisation id.
type OrganisationRegistrar interface {
	Register(context.Context, domain.Organisation) (RegistrationResults, error)
	Unregister(context.Context, domain.OrganisationID) error
}

// OrganisationLocator reads organisation credential rows.
type OrganisationLocator interface {
	FindByID(context.Context, domain.OrganisationID) (domain.Organisation, error)
	List(context.Context, int, int) ([]domain.Organisation, int, error)
}

type OrganisationProcessor func(context.Context, domain.Organisation) error
