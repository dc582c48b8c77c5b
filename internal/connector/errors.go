package connector

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/identity-sync/saas-connector/internal/domain"
)

type ErrorKind int

const (
	// ErrorKindTransient covers 5xx responses and network failures.  The
	// sync step is retried with a fixed backoff.
	ErrorKindTransient ErrorKind = iota

	// ErrorKindRateLimited covers 429 responses.  The sync step is retried
	// after the delay the vendor asked for.
	ErrorKindRateLimited

	// ErrorKindUnauthorized covers 401 responses.  The sync chain stops and
	// the organisation's connection is flagged as broken.
	ErrorKindUnauthorized

	// ErrorKindFatal covers everything else.  The sync chain stops.
	ErrorKindFatal
)

const defaultRetryAfter = 60 * time.Second

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindRateLimited:
		return "rate_limited"
	case ErrorKindUnauthorized:
		return "unauthorized"
	default:
		return "fatal"
	}
}

// VendorAPIError tags a failed vendor call with how the caller should react.
// Classification happens once, at the HTTP boundary, so the retry loop never
// inspects status codes.
type VendorAPIError struct {
	Vendor     domain.Vendor
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *VendorAPIError) Error() string {
	return fmt.Sprintf("%s api error (%s, status %d): %s", e.Vendor, e.Kind, e.StatusCode, e.Message)
}

func (e *VendorAPIError) IsRetriable() bool {
	return e.Kind == ErrorKindTransient || e.Kind == ErrorKindRateLimited
}

// NewVendorAPIError classifies a non-2xx vendor response.
func NewVendorAPIError(vendor domain.Vendor, resp *http.Response) *VendorAPIError {

	apiError := &VendorAPIError{
		Vendor:     vendor,
		StatusCode: resp.StatusCode,
		Message:    resp.Status,
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		apiError.Kind = ErrorKindUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		apiError.Kind = ErrorKindRateLimited
		apiError.RetryAfter = RetryAfterFromHeaders(resp.Header)
	case resp.StatusCode >= 500:
		apiError.Kind = ErrorKindTransient
	default:
		apiError.Kind = ErrorKindFatal
	}

	return apiError
}

// NewTransientVendorError wraps a network level failure where no response was
// received.
func NewTransientVendorError(vendor domain.Vendor, err error) *VendorAPIError {
	return &VendorAPIError{
		Vendor:  vendor,
		Kind:    ErrorKindTransient,
		Message: err.Error(),
	}
}

// RetryAfterFromHeaders works out how long to wait before retrying a rate
// limited call.  Vendors disagree on how to express this:
//
//	Retry-After: seconds or an HTTP date
//	X-RateLimit-Reset: a unix timestamp or a delta in seconds
//	X-RateLimit-Interval: a delta in seconds
//
// Falls back to 60 seconds when no usable header is present.
func RetryAfterFromHeaders(headers http.Header) time.Duration {

	if value := headers.Get("Retry-After"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			if seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		} else if when, err := http.ParseTime(value); err == nil {
			if delay := time.Until(when); delay > 0 {
				return delay
			}
		}
	}

	if value := headers.Get("X-RateLimit-Reset"); value != "" {
		if reset, err := strconv.ParseInt(value, 10, 64); err == nil && reset > 0 {
			// Values that look like a unix timestamp are converted to a
			// delta, small values already are one.
			if reset > int64(365*24*3600) {
				if delay := time.Until(time.Unix(reset, 0)); delay > 0 {
					return delay
				}
			} else {
				return time.Duration(reset) * time.Second
			}
		}
	}

	if value := headers.Get("X-RateLimit-Interval"); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return defaultRetryAfter
}
