package governance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func newTestHttpClient(baseUrl string) *HttpClient {
	return &HttpClient{
		baseUrl:     baseUrl,
		apiKey:      "test-api-key",
		callTimeout: 2 * time.Second,
		httpClient:  &http.Client{},
	}
}

func TestUpdateUsersSendsExpectedPayload(t *testing.T) {

	var capturedPayload updateUsersRequest
	var capturedAuthHeader string
	var capturedRequestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/rest/users" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		capturedAuthHeader = r.Header.Get("Authorization")
		capturedRequestID = r.Header.Get("X-Request-Id")
		if err := json.NewDecoder(r.Body).Decode(&capturedPayload); err != nil {
			t.Errorf("Unable to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestHttpClient(server.URL)

	email := "alice@example.com"
	users := []domain.CanonicalUser{
		{ID: "1", DisplayName: "Alice", Email: &email},
	}

	if err := client.UpdateUsers(context.TODO(), "org-1", users); err != nil {
		t.Fatalf("Expected the user push to succeed: %v", err)
	}

	if capturedAuthHeader != "Bearer test-api-key" {
		t.Fatalf("Unexpected authorization header: %s", capturedAuthHeader)
	}

	if capturedRequestID == "" {
		t.Fatalf("Expected a request id header to be set")
	}

	if capturedPayload.OrganisationID != "org-1" {
		t.Fatalf("Unexpected organisation id in payload: %s", capturedPayload.OrganisationID)
	}

	if len(capturedPayload.Users) != 1 || capturedPayload.Users[0].DisplayName != "Alice" {
		t.Fatalf("Unexpected users in payload: %+v", capturedPayload.Users)
	}
}

func TestDeleteUsersSyncedBeforeFormatsWatermark(t *testing.T) {

	var capturedPayload deleteUsersRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&capturedPayload); err != nil {
			t.Errorf("Unable to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestHttpClient(server.URL)

	syncStartedAt := time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)

	if err := client.DeleteUsersSyncedBefore(context.TODO(), "org-1", syncStartedAt); err != nil {
		t.Fatalf("Expected the sweep to succeed: %v", err)
	}

	if capturedPayload.SyncedBefore != "2024-05-20T09:30:00Z" {
		t.Fatalf("Unexpected syncedBefore watermark: %s", capturedPayload.SyncedBefore)
	}
}

func TestUpdateConnectionStatus(t *testing.T) {

	var capturedPayload connectionStatusRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rest/connection-status" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&capturedPayload); err != nil {
			t.Errorf("Unable to decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestHttpClient(server.URL)

	if err := client.UpdateConnectionStatus(context.TODO(), "org-1", true); err != nil {
		t.Fatalf("Expected the status update to succeed: %v", err)
	}

	if capturedPayload.HasError != true {
		t.Fatalf("Expected hasError to be true")
	}
}

func TestGovernancePlatformErrorResponse(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestHttpClient(server.URL)

	if err := client.UpdateUsers(context.TODO(), "org-1", nil); err == nil {
		t.Fatalf("Expected an error for a 500 response")
	}
}
