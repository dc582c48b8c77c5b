package connector

import (
	"net/http"
	"strconv"
	"testing"
	"time"
)

func buildResponse(statusCode int, headers map[string]string) *http.Response {
	resp := &http.Response{
		StatusCode: statusCode,
		Status:     http.StatusText(statusCode),
		Header:     http.Header{},
	}
	for name, value := range headers {
		resp.Header.Set(name, value)
	}
	return resp
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		statusCode   int
		expectedKind ErrorKind
		retriable    bool
	}{
		{http.StatusUnauthorized, ErrorKindUnauthorized, false},
		{http.StatusTooManyRequests, ErrorKindRateLimited, true},
		{http.StatusInternalServerError, ErrorKindTransient, true},
		{http.StatusBadGateway, ErrorKindTransient, true},
		{http.StatusNotFound, ErrorKindFatal, false},
		{http.StatusBadRequest, ErrorKindFatal, false},
	}

	for _, tc := range testCases {
		apiError := NewVendorAPIError("gitlab", buildResponse(tc.statusCode, nil))

		if apiError.Kind != tc.expectedKind {
			t.Fatalf("Status %d: expected kind %s, got %s", tc.statusCode, tc.expectedKind, apiError.Kind)
		}

		if apiError.IsRetriable() != tc.retriable {
			t.Fatalf("Status %d: expected retriable %t", tc.statusCode, tc.retriable)
		}
	}
}

func TestRetryAfterInSeconds(t *testing.T) {
	apiError := NewVendorAPIError("gitlab", buildResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}))

	if apiError.RetryAfter != 30*time.Second {
		t.Fatalf("Expected a 30s retry delay, got %s", apiError.RetryAfter)
	}
}

func TestRetryAfterAsHttpDate(t *testing.T) {
	when := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)

	apiError := NewVendorAPIError("gitlab", buildResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": when}))

	if apiError.RetryAfter < 80*time.Second || apiError.RetryAfter > 90*time.Second {
		t.Fatalf("Expected a delay close to 90s, got %s", apiError.RetryAfter)
	}
}

func TestRetryAfterFromRateLimitResetEpoch(t *testing.T) {
	reset := time.Now().Add(45 * time.Second).Unix()

	headers := http.Header{}
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

	delay := RetryAfterFromHeaders(headers)

	if delay < 35*time.Second || delay > 45*time.Second {
		t.Fatalf("Expected a delay close to 45s, got %s", delay)
	}
}

func TestRetryAfterFromRateLimitResetDelta(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-RateLimit-Reset", "120")

	if delay := RetryAfterFromHeaders(headers); delay != 120*time.Second {
		t.Fatalf("Expected a 120s delay, got %s", delay)
	}
}

func TestRetryAfterFromRateLimitInterval(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-RateLimit-Interval", "15")

	if delay := RetryAfterFromHeaders(headers); delay != 15*time.Second {
		t.Fatalf("Expected a 15s delay, got %s", delay)
	}
}

func TestRetryAfterDefaultsWithoutHeaders(t *testing.T) {
	if delay := RetryAfterFromHeaders(http.Header{}); delay != defaultRetryAfter {
		t.Fatalf("Expected the 60s default, got %s", delay)
	}
}
