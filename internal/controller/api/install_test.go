package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/utils/jwt_utils"

	"github.com/gorilla/mux"
)

type stubVendorClient struct {
	vendor          domain.Vendor
	credentials     domain.Credentials
	attributes      map[string]string
	authErr         error
	lastAuth        connector.AuthRequest
	deleteErr       error
	deletedUserIDs  []string
	lastDeleteCreds domain.Credentials
}

func (s *stubVendorClient) Vendor() domain.Vendor {
	return s.vendor
}

func (s *stubVendorClient) SyncPhases() []string {
	return nil
}

func (s *stubVendorClient) Authenticate(ctx context.Context, request connector.AuthRequest) (domain.Credentials, map[string]string, error) {
	s.lastAuth = request
	if s.authErr != nil {
		return domain.Credentials{}, nil, s.authErr
	}
	return s.credentials, s.attributes, nil
}

func (s *stubVendorClient) ListUsersPage(ctx context.Context, creds domain.Credentials, request connector.PageRequest) (*connector.UserPage, error) {
	return &connector.UserPage{}, nil
}

func (s *stubVendorClient) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {
	s.deletedUserIDs = append(s.deletedUserIDs, userID)
	s.lastDeleteCreds = creds
	return s.deleteErr
}

type stubResolver struct {
	client *stubVendorClient
}

func (s *stubResolver) Resolve(vendor domain.Vendor) (connector.VendorClient, error) {
	if s.client != nil && s.client.vendor == vendor {
		return s.client, nil
	}
	return nil, connector.ErrUnknownVendor
}

func (s *stubResolver) Vendors() []domain.Vendor {
	if s.client == nil {
		return nil
	}
	return []domain.Vendor{s.client.vendor}
}

type reversingCipher struct{}

func (reversingCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (reversingCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return ciphertext[len("enc:"):], nil
}

type recordingGovernanceClient struct {
	connectionStatuses []bool
}

func (r *recordingGovernanceClient) UpdateUsers(ctx context.Context, orgID domain.OrganisationID, users []domain.CanonicalUser) error {
	return nil
}

func (r *recordingGovernanceClient) DeleteUsersSyncedBefore(ctx context.Context, orgID domain.OrganisationID, syncedBefore time.Time) error {
	return nil
}

func (r *recordingGovernanceClient) UpdateConnectionStatus(ctx context.Context, orgID domain.OrganisationID, hasError bool) error {
	r.connectionStatuses = append(r.connectionStatuses, hasError)
	return nil
}

func encodeBody(t *testing.T, payload interface{}) io.Reader {
	t.Helper()

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		t.Fatalf("unable to encode the request payload: %v", err)
	}
	return &body
}

func newInstallTestServer(store *fakeOrganisationStore, vendorClient *stubVendorClient, emitter *capturingEmitter, governanceClient *recordingGovernanceClient) *mux.Router {
	router := mux.NewRouter()
	server := NewInstallServer(store, &stubResolver{client: vendorClient}, reversingCipher{}, emitter, governanceClient, router, testApiConfig())
	server.Routes()
	return router
}

func TestInstallStartIssuesStateToken(t *testing.T) {
	vendorClient := &stubVendorClient{vendor: "gitlab"}
	router := newInstallTestServer(&fakeOrganisationStore{}, vendorClient, &capturingEmitter{}, &recordingGovernanceClient{})

	payload := map[string]string{"organisation_id": "org-1", "vendor": "gitlab"}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthenticatedRequest(t, http.MethodPost, "/install/start", payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response installStartResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("unable to decode the response: %v", err)
	}

	orgID, vendor, err := jwt_utils.ParseInstallStateToken("install-state-test-key", response.State)
	if err != nil {
		t.Fatalf("the issued state token did not verify: %v", err)
	}

	if orgID != "org-1" || vendor != "gitlab" {
		t.Errorf("unexpected state token claims: %s %s", orgID, vendor)
	}
}

func TestInstallStartRejectsUnknownVendor(t *testing.T) {
	vendorClient := &stubVendorClient{vendor: "gitlab"}
	router := newInstallTestServer(&fakeOrganisationStore{}, vendorClient, &capturingEmitter{}, &recordingGovernanceClient{})

	payload := map[string]string{"organisation_id": "org-1", "vendor": "nope"}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthenticatedRequest(t, http.MethodPost, "/install/start", payload))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOauthCallbackCompletesInstallation(t *testing.T) {
	vendorClient := &stubVendorClient{
		vendor:      "gitlab",
		credentials: domain.Credentials{AccessToken: "vendor-token"},
		attributes:  map[string]string{"authenticated_user_id": "42"},
	}
	store := &fakeOrganisationStore{}
	emitter := &capturingEmitter{}
	governanceClient := &recordingGovernanceClient{}
	router := newInstallTestServer(store, vendorClient, emitter, governanceClient)

	state, err := jwt_utils.CreateInstallStateToken("install-state-test-key", "org-1", "gitlab", testApiConfig().InstallStateTokenExpiry)
	if err != nil {
		t.Fatalf("unable to create a state token: %v", err)
	}

	payload := map[string]string{"state": state, "code": "oauth-code"}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/oauth/callback", encodeBody(t, payload)))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if vendorClient.lastAuth.Code != "oauth-code" {
		t.Errorf("expected the oauth code to be passed through, got %q", vendorClient.lastAuth.Code)
	}

	org, ok := store.organisations["org-1"]
	if !ok {
		t.Fatal("expected the organisation to be registered")
	}

	if org.Vendor != "gitlab" || org.InstallID == "" {
		t.Errorf("unexpected registered organisation: %+v", org)
	}

	if org.EncryptedCredentials != `enc:{"access_token":"vendor-token"}` {
		t.Errorf("unexpected encrypted credentials: %q", org.EncryptedCredentials)
	}

	if org.Attributes["authenticated_user_id"] != "42" {
		t.Errorf("expected the routing attributes to be stored, got %v", org.Attributes)
	}

	if len(emitter.requests) != 1 {
		t.Fatalf("expected 1 emitted sync request, got %d", len(emitter.requests))
	}

	request := emitter.requests[0]

	if !request.IsFirstSync {
		t.Error("the installation sync must run as a first sync")
	}

	if request.InstallID != org.InstallID {
		t.Errorf("the first sync must carry the new install id: %s vs %s", request.InstallID, org.InstallID)
	}

	if len(governanceClient.connectionStatuses) != 1 || governanceClient.connectionStatuses[0] != false {
		t.Errorf("expected the connection to be marked healthy, got %v", governanceClient.connectionStatuses)
	}
}

func TestOauthCallbackRejectsForgedState(t *testing.T) {
	vendorClient := &stubVendorClient{vendor: "gitlab"}
	store := &fakeOrganisationStore{}
	router := newInstallTestServer(store, vendorClient, &capturingEmitter{}, &recordingGovernanceClient{})

	forgedState, err := jwt_utils.CreateInstallStateToken("some-other-key", "org-1", "gitlab", testApiConfig().InstallStateTokenExpiry)
	if err != nil {
		t.Fatalf("unable to create a state token: %v", err)
	}

	payload := map[string]string{"state": forgedState, "code": "oauth-code"}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/oauth/callback", encodeBody(t, payload)))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	if len(store.organisations) != 0 {
		t.Error("a forged state token must not register an organisation")
	}
}

func TestApiKeyInstall(t *testing.T) {
	vendorClient := &stubVendorClient{
		vendor:      "harvest",
		credentials: domain.Credentials{APIKey: "harvest-key", Attributes: map[string]string{"account_id": "777"}},
		attributes:  map[string]string{"account_id": "777"},
	}
	store := &fakeOrganisationStore{}
	emitter := &capturingEmitter{}
	router := newInstallTestServer(store, vendorClient, emitter, &recordingGovernanceClient{})

	payload := map[string]interface{}{
		"organisation_id": "org-2",
		"vendor":          "harvest",
		"api_key":         "harvest-key",
		"attributes":      map[string]string{"account_id": "777"},
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthenticatedRequest(t, http.MethodPost, "/install/api-key", payload))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if vendorClient.lastAuth.APIKey != "harvest-key" {
		t.Errorf("expected the api key to be passed through, got %q", vendorClient.lastAuth.APIKey)
	}

	if _, ok := store.organisations["org-2"]; !ok {
		t.Fatal("expected the organisation to be registered")
	}

	if len(emitter.requests) != 1 || !emitter.requests[0].IsFirstSync {
		t.Errorf("expected a first sync to be scheduled, got %+v", emitter.requests)
	}
}

func TestApiKeyInstallFailsWhenVendorRejectsTheKey(t *testing.T) {
	vendorClient := &stubVendorClient{
		vendor:  "harvest",
		authErr: context.DeadlineExceeded,
	}
	store := &fakeOrganisationStore{}
	emitter := &capturingEmitter{}
	router := newInstallTestServer(store, vendorClient, emitter, &recordingGovernanceClient{})

	payload := map[string]string{
		"organisation_id": "org-2",
		"vendor":          "harvest",
		"api_key":         "bad-key",
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newAuthenticatedRequest(t, http.MethodPost, "/install/api-key", payload))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}

	if len(store.organisations) != 0 {
		t.Error("a failed authentication must not register an organisation")
	}

	if len(emitter.requests) != 0 {
		t.Error("a failed authentication must not schedule a sync")
	}
}
