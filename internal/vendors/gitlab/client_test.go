package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func newTestClient(baseUrl string) *Client {
	cfg := &config.Config{
		GitlabBaseUrl:      baseUrl,
		GitlabClientId:     "client-id",
		GitlabClientSecret: "client-secret",
		OauthRedirectUrl:   "http://localhost/callback",
	}
	return NewClient(cfg)
}

func testCredentials() domain.Credentials {
	return domain.Credentials{
		AccessToken: "token",
		Attributes:  map[string]string{authenticatedUserIDAttribute: "1"},
	}
}

func TestListUsersPageFollowsLinkHeader(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("Unexpected authorization header: %s", r.Header.Get("Authorization"))
		}

		if r.URL.Query().Get("id_after") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/api/v4/users?id_after=2&per_page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, `[
				{"id": 1, "username": "alice", "name": "Alice", "email": "alice@example.com", "is_admin": true, "web_url": "https://gitlab.example.com/alice"},
				{"id": 2, "username": "bob", "name": "Bob"}
			]`)
			return
		}

		fmt.Fprint(w, `[{"id": 3, "username": "carol", "name": "Carol"}]`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	page, err := client.ListUsersPage(context.TODO(), testCredentials(), connector.PageRequest{PageSize: 2})
	if err != nil {
		t.Fatalf("Expected the first page to load: %v", err)
	}

	if len(page.ValidUsers) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(page.ValidUsers))
	}

	if page.NextCursor == nil || *page.NextCursor != "2" {
		t.Fatalf("Expected the id_after cursor from the Link header, got %v", page.NextCursor)
	}

	page, err = client.ListUsersPage(context.TODO(), testCredentials(), connector.PageRequest{PageSize: 2, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("Expected the second page to load: %v", err)
	}

	if page.NextCursor != nil {
		t.Fatalf("Expected the listing to end, got cursor %s", *page.NextCursor)
	}
}

func TestListUsersPageMapsRoles(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "username": "alice", "name": "Alice", "is_admin": true},
			{"id": 2, "username": "bob", "name": "Bob"}
		]`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	page, err := client.ListUsersPage(context.TODO(), testCredentials(), connector.PageRequest{PageSize: 10})
	if err != nil {
		t.Fatalf("Expected the page to load: %v", err)
	}

	if *page.ValidUsers[0].Role != "admin" || *page.ValidUsers[1].Role != "user" {
		t.Fatalf("Unexpected role mapping: %+v", page.ValidUsers)
	}

	// The installing user must never be proposed for suspension.
	if *page.ValidUsers[0].IsSuspendable != false {
		t.Fatalf("Expected the authenticated user to not be suspendable")
	}

	if *page.ValidUsers[1].IsSuspendable != true {
		t.Fatalf("Expected other users to be suspendable")
	}
}

func TestListUsersPageShuntsInvalidRecords(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id": 1, "username": "alice", "name": "Alice"},
			{"id": 2},
			{"bogus": true}
		]`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	page, err := client.ListUsersPage(context.TODO(), testCredentials(), connector.PageRequest{PageSize: 10})
	if err != nil {
		t.Fatalf("Expected the page to load despite bad records: %v", err)
	}

	if len(page.ValidUsers) != 1 {
		t.Fatalf("Expected 1 valid user, got %d", len(page.ValidUsers))
	}

	if len(page.InvalidRecords) != 2 {
		t.Fatalf("Expected 2 invalid records, got %d", len(page.InvalidRecords))
	}
}

func TestListUsersPageClassifiesRateLimit(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.ListUsersPage(context.TODO(), testCredentials(), connector.PageRequest{PageSize: 10})

	apiError, ok := err.(*connector.VendorAPIError)
	if !ok {
		t.Fatalf("Expected a VendorAPIError, got %v", err)
	}

	if apiError.Kind != connector.ErrorKindRateLimited {
		t.Fatalf("Expected a rate limited error, got %s", apiError.Kind)
	}
}

func TestDeleteUserTreats404AsSuccess(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if err := client.DeleteUser(context.TODO(), testCredentials(), "42"); err != nil {
		t.Fatalf("Expected a 404 deletion to succeed: %v", err)
	}
}

func TestAuthenticateExchangesCode(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			if err := r.ParseForm(); err != nil {
				t.Errorf("Unable to parse token form: %v", err)
			}
			if r.PostForm.Get("code") != "auth-code" || r.PostForm.Get("grant_type") != "authorization_code" {
				t.Errorf("Unexpected token request: %v", r.PostForm)
			}
			fmt.Fprint(w, `{"access_token": "new-token", "refresh_token": "new-refresh"}`)
		case "/api/v4/user":
			fmt.Fprint(w, `{"id": 7, "username": "installer", "name": "Installer"}`)
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	creds, attributes, err := client.Authenticate(context.TODO(), connector.AuthRequest{Code: "auth-code"})
	if err != nil {
		t.Fatalf("Expected authentication to succeed: %v", err)
	}

	if creds.AccessToken != "new-token" || creds.RefreshToken != "new-refresh" {
		t.Fatalf("Unexpected credentials: %+v", creds)
	}

	if attributes[authenticatedUserIDAttribute] != "7" {
		t.Fatalf("Expected the installer's user id to be recorded, got %+v", attributes)
	}
}
