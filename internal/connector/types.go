package connector

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/identity-sync/saas-connector/internal/domain"
)

var (
	// ErrOrganisationGone means the organisation row no longer exists.  The
	// sync chain stops without being treated as a failure.
	ErrOrganisationGone = errors.New("organisation no longer registered")

	// ErrSyncChainSuperseded means the organisation was reinstalled after
	// this chain started.  The stale chain stops silently.
	ErrSyncChainSuperseded = errors.New("sync chain superseded by a newer installation")

	// ErrUnknownVendor means no client is registered for the organisation's
	// vendor.
	ErrUnknownVendor = errors.New("unknown vendor")
)

// AuthRequest carries whatever the install flow collected: an OAuth
// authorization code or an API key, plus vendor specific fields such as a
// workspace slug or account subdomain.
type AuthRequest struct {
	Code       string
	APIKey     string
	Attributes map[string]string
}

// PageRequest asks a vendor client for one page of users.  Cursor is nil on
// the first call of a phase; afterwards it is whatever the previous page's
// NextCursor was.
type PageRequest struct {
	Phase    string
	Cursor   *string
	PageSize int
}

// UserPage is one page of vendor users, already normalized.  NextCursor nil
// means the phase is exhausted.  Records that failed validation are kept
// verbatim so they can be logged without breaking the page.
type UserPage struct {
	ValidUsers     []domain.CanonicalUser
	InvalidRecords []json.RawMessage
	NextCursor     *string
}

// VendorClient adapts one SaaS vendor's user API to the common paging
// contract.  Implementations translate their own pagination style (offsets,
// tokens, Link headers, full next URLs, page counters) into NextCursor.
type VendorClient interface {
	Vendor() domain.Vendor

	// SyncPhases lists the phases a full sync walks through, in order.
	// Most vendors have a single phase.
	SyncPhases() []string

	// Authenticate exchanges the install flow's input for credentials and
	// the routing attributes to persist alongside them.
	Authenticate(ctx context.Context, authRequest AuthRequest) (domain.Credentials, map[string]string, error)

	// ListUsersPage fetches one page of users.  Failures are returned as
	// *VendorAPIError so the caller knows whether to retry.
	ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest PageRequest) (*UserPage, error)

	// DeleteUser removes a user on the vendor side.  A user that is already
	// gone is not an error.
	DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error
}

// VendorClientResolver maps a vendor name to its client.
type VendorClientResolver interface {
	Resolve(vendor domain.Vendor) (VendorClient, error)
	Vendors() []domain.Vendor
}

// ContinuationEmitter publishes the next sync request of a chain.  First
// syncs go to a dedicated topic so backfills never starve steady-state
// refreshes.
type ContinuationEmitter interface {
	Emit(ctx context.Context, syncRequest domain.SyncRequest) error
}
