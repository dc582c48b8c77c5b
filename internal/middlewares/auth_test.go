package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/identity-sync/saas-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func newAuthMiddleware() *AuthMiddleware {
	knownSecrets := make(map[string]interface{})
	knownSecrets["test_client_1"] = "12345"
	return &AuthMiddleware{Secrets: knownSecrets}
}

func runAuthenticatedRequest(t *testing.T, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req, err := http.NewRequest("GET", "/api/saas-connector/v1/organisations", nil)
	if err != nil {
		t.Fatalf("Unable to build request: %v", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	handler := newAuthMiddleware().Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r.Context())
		if !ok {
			t.Errorf("Expected a principal in the request context")
		}
		if principal.GetClientID() != "test_client_1" {
			t.Errorf("Unexpected principal: %s", principal.GetClientID())
		}
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestAuthenticateWithValidPsk(t *testing.T) {
	rr := runAuthenticatedRequest(t, map[string]string{
		PSKClientIdHeader: "test_client_1",
		PSKHeader:         "12345",
	})

	if rr.Code != 200 {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
}

func TestAuthenticateWithWrongPsk(t *testing.T) {
	rr := runAuthenticatedRequest(t, map[string]string{
		PSKClientIdHeader: "test_client_1",
		PSKHeader:         "67890",
	})

	if rr.Code != 401 {
		t.Fatalf("Expected 401, got %d", rr.Code)
	}
}

func TestAuthenticateWithUnknownClient(t *testing.T) {
	rr := runAuthenticatedRequest(t, map[string]string{
		PSKClientIdHeader: "test_client_nil",
		PSKHeader:         "12345",
	})

	if rr.Code != 401 {
		t.Fatalf("Expected 401, got %d", rr.Code)
	}
}

func TestAuthenticateWithMissingHeaders(t *testing.T) {
	rr := runAuthenticatedRequest(t, map[string]string{
		PSKHeader: "12345",
	})

	if rr.Code != 401 {
		t.Fatalf("Expected 401, got %d", rr.Code)
	}
}
