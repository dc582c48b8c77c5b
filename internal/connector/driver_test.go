package connector

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/google/go-cmp/cmp"
)

func init() {
	logger.InitLogger()
}

type passthroughCipher struct {
}

func (passthroughCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return plaintext, nil
}

func (passthroughCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return ciphertext, nil
}

type fakeOrganisationLocator struct {
	organisations map[domain.OrganisationID]domain.Organisation
	lookupCount   int
}

func (fol *fakeOrganisationLocator) FindByID(ctx context.Context, orgID domain.OrganisationID) (domain.Organisation, error) {
	fol.lookupCount++
	org, ok := fol.organisations[orgID]
	if !ok {
		return domain.Organisation{}, organisation_repository.NotFoundError
	}
	return org, nil
}

func (fol *fakeOrganisationLocator) List(ctx context.Context, offset int, limit int) ([]domain.Organisation, int, error) {
	return nil, 0, nil
}

type recordingGovernanceClient struct {
	pushedUserPages [][]domain.CanonicalUser
	sweeps          []time.Time
	statusUpdates   []bool
}

func (rgc *recordingGovernanceClient) UpdateUsers(ctx context.Context, orgID domain.OrganisationID, users []domain.CanonicalUser) error {
	rgc.pushedUserPages = append(rgc.pushedUserPages, users)
	return nil
}

func (rgc *recordingGovernanceClient) DeleteUsersSyncedBefore(ctx context.Context, orgID domain.OrganisationID, syncedBefore time.Time) error {
	rgc.sweeps = append(rgc.sweeps, syncedBefore)
	return nil
}

func (rgc *recordingGovernanceClient) UpdateConnectionStatus(ctx context.Context, orgID domain.OrganisationID, hasError bool) error {
	rgc.statusUpdates = append(rgc.statusUpdates, hasError)
	return nil
}

type scriptedVendorClient struct {
	vendor       domain.Vendor
	phases       []string
	listUsers    func(pageRequest PageRequest) (*UserPage, error)
	pageRequests []PageRequest
}

func (svc *scriptedVendorClient) Vendor() domain.Vendor {
	return svc.vendor
}

func (svc *scriptedVendorClient) SyncPhases() []string {
	return svc.phases
}

func (svc *scriptedVendorClient) Authenticate(ctx context.Context, authRequest AuthRequest) (domain.Credentials, map[string]string, error) {
	return domain.Credentials{}, nil, nil
}

func (svc *scriptedVendorClient) ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest PageRequest) (*UserPage, error) {
	svc.pageRequests = append(svc.pageRequests, pageRequest)
	return svc.listUsers(pageRequest)
}

func (svc *scriptedVendorClient) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {
	return nil
}

type singleClientResolver struct {
	client VendorClient
}

func (scr *singleClientResolver) Resolve(vendor domain.Vendor) (VendorClient, error) {
	if scr.client == nil || scr.client.Vendor() != vendor {
		return nil, ErrUnknownVendor
	}
	return scr.client, nil
}

func (scr *singleClientResolver) Vendors() []domain.Vendor {
	if scr.client == nil {
		return nil
	}
	return []domain.Vendor{scr.client.Vendor()}
}

func testDriverConfig() *config.Config {
	return &config.Config{
		OrganisationCacheSize: 10,
		OrganisationCacheTTL:  time.Minute,
		VendorPageSize:        2,
		VendorCallTimeout:     2 * time.Second,
	}
}

func testOrganisation() domain.Organisation {
	return domain.Organisation{
		ID:                   "org-1",
		Vendor:               "gitlab",
		InstallID:            "install-1",
		EncryptedCredentials: `{"access_token":"secret-token"}`,
		Attributes:           map[string]string{"workspace": "acme"},
	}
}

func testSyncRequest() domain.SyncRequest {
	return domain.SyncRequest{
		OrganisationID: "org-1",
		InstallID:      "install-1",
		Vendor:         "gitlab",
		IsFirstSync:    true,
		SyncStartedAt:  time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC).UnixMilli(),
	}
}

func TestTwoPageSyncChain(t *testing.T) {

	pageOneCursor := "2"

	users := []domain.CanonicalUser{
		{ID: "1", DisplayName: "Alice"},
		{ID: "2", DisplayName: "Bob"},
		{ID: "3", DisplayName: "Carol"},
	}

	vendorClient := &scriptedVendorClient{
		vendor: "gitlab",
		phases: []string{"users"},
		listUsers: func(pageRequest PageRequest) (*UserPage, error) {
			if pageRequest.Cursor == nil {
				return &UserPage{ValidUsers: users[:2], NextCursor: &pageOneCursor}, nil
			}
			return &UserPage{ValidUsers: users[2:], NextCursor: nil}, nil
		},
	}

	governanceClient := &recordingGovernanceClient{}
	locator := &fakeOrganisationLocator{organisations: map[domain.OrganisationID]domain.Organisation{"org-1": testOrganisation()}}

	driver := NewDriver(testDriverConfig(), locator, passthroughCipher{}, &singleClientResolver{client: vendorClient}, governanceClient)

	syncRequest := testSyncRequest()

	result, err := driver.Step(context.TODO(), syncRequest)
	if err != nil {
		t.Fatalf("Expected the first step to succeed: %v", err)
	}

	if result.State != SyncOngoing || result.Next == nil {
		t.Fatalf("Expected an ongoing sync with a continuation, got %+v", result)
	}

	if result.Next.Cursor == nil || *result.Next.Cursor != pageOneCursor {
		t.Fatalf("Expected the continuation to carry the next cursor, got %+v", result.Next)
	}

	if result.Next.SyncStartedAt != syncRequest.SyncStartedAt {
		t.Fatalf("Expected the watermark to stay fixed across the chain")
	}

	if len(governanceClient.sweeps) != 0 {
		t.Fatalf("Expected no sweep while the sync is ongoing")
	}

	result, err = driver.Step(context.TODO(), *result.Next)
	if err != nil {
		t.Fatalf("Expected the second step to succeed: %v", err)
	}

	if result.State != SyncCompleted || result.Next != nil {
		t.Fatalf("Expected the sync to complete, got %+v", result)
	}

	if len(governanceClient.pushedUserPages) != 2 {
		t.Fatalf("Expected 2 pages of users to be pushed, got %d", len(governanceClient.pushedUserPages))
	}

	if !cmp.Equal(users[:2], governanceClient.pushedUserPages[0]) {
		t.Fatalf("First page mismatch: %s", cmp.Diff(users[:2], governanceClient.pushedUserPages[0]))
	}

	if len(governanceClient.sweeps) != 1 {
		t.Fatalf("Expected exactly one sweep, got %d", len(governanceClient.sweeps))
	}

	if !governanceClient.sweeps[0].Equal(syncRequest.SyncStartedAtTime()) {
		t.Fatalf("Expected the sweep to use the chain's watermark, got %s", governanceClient.sweeps[0])
	}
}

func TestPhaseAdvanceResetsCursor(t *testing.T) {

	vendorClient := &scriptedVendorClient{
		vendor: "bitbucket",
		phases: []string{"administrators", "members"},
		listUsers: func(pageRequest PageRequest) (*UserPage, error) {
			return &UserPage{ValidUsers: []domain.CanonicalUser{{ID: "1", DisplayName: "Alice"}}, NextCursor: nil}, nil
		},
	}

	org := testOrganisation()
	org.Vendor = "bitbucket"

	governanceClient := &recordingGovernanceClient{}
	locator := &fakeOrganisationLocator{organisations: map[domain.OrganisationID]domain.Organisation{"org-1": org}}

	driver := NewDriver(testDriverConfig(), locator, passthroughCipher{}, &singleClientResolver{client: vendorClient}, governanceClient)

	syncRequest := testSyncRequest()
	syncRequest.Vendor = "bitbucket"

	result, err := driver.Step(context.TODO(), syncRequest)
	if err != nil {
		t.Fatalf("Expected the step to succeed: %v", err)
	}

	if result.State != SyncOngoing || result.Next == nil {
		t.Fatalf("Expected the sync to continue into the next phase, got %+v", result)
	}

	if result.Next.Phase != "members" {
		t.Fatalf("Expected the next phase, got %s", result.Next.Phase)
	}

	if result.Next.Cursor != nil {
		t.Fatalf("Expected the cursor to reset at the phase boundary")
	}

	if len(governanceClient.sweeps) != 0 {
		t.Fatalf("Expected no sweep before the final phase completes")
	}
}

func TestEmptyPageSkipsUserPush(t *testing.T) {

	vendorClient := &scriptedVendorClient{
		vendor: "gitlab",
		phases: []string{"users"},
		listUsers: func(pageRequest PageRequest) (*UserPage, error) {
			return &UserPage{ValidUsers: nil, NextCursor: nil}, nil
		},
	}

	governanceClient := &recordingGovernanceClient{}
	locator := &fakeOrganisationLocator{organisations: map[domain.OrganisationID]domain.Organisation{"org-1": testOrganisation()}}

	driver := NewDriver(testDriverConfig(), locator, passthroughCipher{}, &singleClientResolver{client: vendorClient}, governanceClient)

	result, err := driver.Step(context.TODO(), testSyncRequest())
	if err != nil {
		t.Fatalf("Expected the step to succeed: %v", err)
	}

	if result.State != SyncCompleted {
		t.Fatalf("Expected the sync to complete on an empty final page")
	}

	if len(governanceClient.pushedUserPages) != 0 {
		t.Fatalf("Expected no user push for an empty page")
	}

	if len(governanceClient.sweeps) != 1 {
		t.Fatalf("Expected the sweep to still run, got %d", len(governanceClient.sweeps))
	}
}

func TestUnauthorizedFlagsConnectionAndStopsChain(t *testing.T) {

	vendorClient := &scriptedVendorClient{
		vendor: "gitlab",
		phases: []string{"users"},
		listUsers: func(pageRequest PageRequest) (*UserPage, error) {
			return nil, &VendorAPIError{Vendor: "gitlab", Kind: ErrorKindUnauthorized, StatusCode: http.StatusUnauthorized, Message: "token revoked"}
		},
	}

	governanceClient := &recordingGovernanceClient{}
	locator := &fakeOrganisationLocator{organisations: map[domain.OrganisationID]domain.Organisation{"org-1": testOrganisation()}}

	driver := NewDriver(testDriverConfig(), locator, passthroughCipher{}, &singleClientResolver{client: vendorClient}, governanceClient)

	_, err := driver.Step(context.TODO(), testSyncRequest())
	if err == nil {
		t.Fatalf("Expected the step to fail")
	}

	if len(governanceClient.statusUpdates) != 1 || governanceClient.statusUpdates[0] != true {
		t.Fatalf("Expected the connection to be flagged as broken, got %+v", governanceClient.statusUpdates)
	}

	if len(governanceClient.sweeps) != 0 {
		t.Fatalf("Expected no sweep after an authorization failure")
	}
}

func TestUnregisteredOrganisationStopsChain(t *testing.T) {

	governanceClient := &recordingGovernanceClient{}
	locator := &fakeOrganisationLocator{organisations: map[domain.OrganisationID]domain.Organisation{}}

	driver := NewDriver(testDriverConfig(), locator, passthroughCipher{}, &singleClientResolver{}, governanceClient)

	_, err := driver.Step(context.TODO(), testSyncRequest())
	if err != ErrOrganisationGone {
		t.Fatalf("Expected ErrOrganisationGone, got %v", err)
	}
}

func TestReinstalledOrganisationSupersedesChain(t *testing.T) {

	org := testOrganisation()
	org.InstallID = "install-2"

	governanceClient := &recordingGovernanceClient{}
	locator := &fakeOrganisationLocator{organisations: map[domain.OrganisationID]domain.Organisation{"org-1": org}}

	driver := NewDriver(testDriverConfig(), locator, passthroughCipher{}, &singleClientResolver{}, governanceClient)

	_, err := driver.Step(context.TODO(), testSyncRequest())
	if err != ErrSyncChainSuperseded {
		t.Fatalf("Expected ErrSyncChainSuperseded, got %v", err)
	}

	// The install id mismatch forces a cache bypass and a second lookup.
	if locator.lookupCount != 2 {
		t.Fatalf("Expected the stale cache entry to be re-checked, got %d lookups", locator.lookupCount)
	}
}

func TestRoutingAttributesRideAlongWithCredentials(t *testing.T) {

	creds, err := DecryptCredentials(context.TODO(), passthroughCipher{}, testOrganisation())
	if err != nil {
		t.Fatalf("Expected the credentials to decrypt: %v", err)
	}

	if creds.AccessToken != "secret-token" {
		t.Fatalf("Unexpected access token: %s", creds.AccessToken)
	}

	if creds.Attributes["workspace"] != "acme" {
		t.Fatalf("Expected the organisation attributes to be merged in, got %+v", creds.Attributes)
	}
}
