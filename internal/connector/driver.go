package connector

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/governance"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
	"github.com/identity-sync/saas-connector/internal/secrets"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type SyncState int

const (
	SyncOngoing SyncState = iota
	SyncCompleted
)

// StepResult is the outcome of one sync step.  Next is only set while the
// sync is ongoing; it is the request that continues the chain.
type StepResult struct {
	State SyncState
	Next  *domain.SyncRequest
}

// Driver executes one step of a sync chain: fetch one page of users from the
// vendor, push it to the governance platform, and either hand back the
// continuation request or finish with the stale-user sweep.
type Driver struct {
	organisationLocator organisation_repository.OrganisationLocator
	credentialCipher    secrets.Cipher
	vendorClients       VendorClientResolver
	governanceClient    governance.Client
	organisationCache   *expirable.LRU[domain.OrganisationID, domain.Organisation]
	pageSize            int
	vendorCallTimeout   time.Duration
}

func NewDriver(cfg *config.Config, organisationLocator organisation_repository.OrganisationLocator, credentialCipher secrets.Cipher, vendorClients VendorClientResolver, governanceClient governance.Client) *Driver {
	return &Driver{
		organisationLocator: organisationLocator,
		credentialCipher:    credentialCipher,
		vendorClients:       vendorClients,
		governanceClient:    governanceClient,
		organisationCache:   expirable.NewLRU[domain.OrganisationID, domain.Organisation](cfg.OrganisationCacheSize, nil, cfg.OrganisationCacheTTL),
		pageSize:            cfg.VendorPageSize,
		vendorCallTimeout:   cfg.VendorCallTimeout,
	}
}

func (d *Driver) Step(ctx context.Context, syncRequest domain.SyncRequest) (StepResult, error) {

	log := logger.Log.WithFields(logrus.Fields{
		"organisation_id": syncRequest.OrganisationID,
		"vendor":          syncRequest.Vendor,
		"phase":           syncRequest.Phase,
		"is_first_sync":   syncRequest.IsFirstSync,
	})

	callDurationTimer := prometheus.NewTimer(metrics.syncStepDuration.WithLabelValues(string(syncRequest.Vendor)))
	defer callDurationTimer.ObserveDuration()

	org, err := d.lookupOrganisation(ctx, syncRequest.OrganisationID)
	if err != nil {
		if errors.Is(err, ErrOrganisationGone) {
			log.Info("Organisation is no longer registered.  Dropping the sync chain.")
		}
		return StepResult{}, err
	}

	if org.InstallID != syncRequest.InstallID {
		// The cache may be serving a row from before a reinstall, so check
		// the database before declaring the chain stale.
		d.organisationCache.Remove(syncRequest.OrganisationID)

		org, err = d.lookupOrganisation(ctx, syncRequest.OrganisationID)
		if err != nil {
			return StepResult{}, err
		}

		if org.InstallID != syncRequest.InstallID {
			metrics.supersededChainsCounter.Inc()
			log.Info("Organisation was reinstalled.  Dropping the superseded sync chain.")
			return StepResult{}, ErrSyncChainSuperseded
		}
	}

	vendorClient, err := d.vendorClients.Resolve(org.Vendor)
	if err != nil {
		logger.LogWithError(log, "No client registered for the organisation's vendor", err)
		return StepResult{}, err
	}

	creds, err := DecryptCredentials(ctx, d.credentialCipher, org)
	if err != nil {
		logger.LogWithError(log, "Unable to decrypt the organisation's credentials", err)
		return StepResult{}, err
	}

	phases := vendorClient.SyncPhases()

	phase := syncRequest.Phase
	if phase == "" {
		phase = phases[0]
	}

	pageCtx, cancel := context.WithTimeout(ctx, d.vendorCallTimeout)
	defer cancel()

	page, err := vendorClient.ListUsersPage(pageCtx, creds, PageRequest{
		Phase:    phase,
		Cursor:   syncRequest.Cursor,
		PageSize: d.pageSize,
	})

	if err != nil {
		var apiError *VendorAPIError
		if errors.As(err, &apiError) {
			metrics.syncStepErrorCounter.WithLabelValues(string(org.Vendor), apiError.Kind.String()).Inc()

			if apiError.Kind == ErrorKindUnauthorized {
				logger.LogWithError(log, "Vendor rejected the organisation's credentials.  Flagging the connection.", err)
				if statusErr := d.governanceClient.UpdateConnectionStatus(ctx, org.ID, true); statusErr != nil {
					logger.LogWithError(log, "Unable to flag the broken connection", statusErr)
				}
			}
		}
		return StepResult{}, err
	}

	if len(page.InvalidRecords) > 0 {
		metrics.invalidUserRecordsCounter.WithLabelValues(string(org.Vendor)).Add(float64(len(page.InvalidRecords)))
		for _, record := range page.InvalidRecords {
			log.WithFields(logrus.Fields{"record": string(record)}).Warn("Dropping a vendor user record that failed validation")
		}
	}

	if len(page.ValidUsers) > 0 {
		if err := d.governanceClient.UpdateUsers(ctx, org.ID, page.ValidUsers); err != nil {
			return StepResult{}, err
		}
		metrics.syncedUsersCounter.WithLabelValues(string(org.Vendor)).Add(float64(len(page.ValidUsers)))
	}

	if page.NextCursor != nil {
		next := syncRequest
		next.Phase = phase
		next.Cursor = page.NextCursor
		return StepResult{State: SyncOngoing, Next: &next}, nil
	}

	if followingPhase, ok := nextPhase(phases, phase); ok {
		next := syncRequest
		next.Phase = followingPhase
		next.Cursor = nil
		return StepResult{State: SyncOngoing, Next: &next}, nil
	}

	// Last page of the last phase.  Sweep everything the chain did not
	// touch, using the watermark fixed when the chain started.
	if err := d.governanceClient.DeleteUsersSyncedBefore(ctx, org.ID, syncRequest.SyncStartedAtTime()); err != nil {
		return StepResult{}, err
	}

	if err := d.governanceClient.UpdateConnectionStatus(ctx, org.ID, false); err != nil {
		logger.LogWithError(log, "Unable to mark the connection as healthy", err)
	}

	metrics.completedSyncsCounter.WithLabelValues(string(org.Vendor)).Inc()
	log.Info("Sync chain completed")

	return StepResult{State: SyncCompleted}, nil
}

func (d *Driver) lookupOrganisation(ctx context.Context, orgID domain.OrganisationID) (domain.Organisation, error) {

	if org, ok := d.organisationCache.Get(orgID); ok {
		return org, nil
	}

	org, err := d.organisationLocator.FindByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, organisation_repository.NotFoundError) {
			return org, ErrOrganisationGone
		}
		return org, err
	}

	d.organisationCache.Add(orgID, org)

	return org, nil
}

// DecryptCredentials recovers the organisation's vendor credentials and folds
// in the routing attributes recorded at install time.
func DecryptCredentials(ctx context.Context, credentialCipher secrets.Cipher, org domain.Organisation) (domain.Credentials, error) {

	var creds domain.Credentials

	plaintext, err := credentialCipher.Decrypt(ctx, org.EncryptedCredentials)
	if err != nil {
		return creds, err
	}

	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return creds, err
	}

	if creds.Attributes == nil {
		creds.Attributes = make(map[string]string)
	}

	// Workspace slugs, account ids and the like ride along with the
	// credentials.
	for name, value := range org.Attributes {
		if _, present := creds.Attributes[name]; !present {
			creds.Attributes[name] = value
		}
	}

	return creds, nil
}

func nextPhase(phases []string, current string) (string, bool) {
	for i, phase := range phases {
		if phase == current && i+1 < len(phases) {
			return phases[i+1], true
		}
	}
	return "", false
}
