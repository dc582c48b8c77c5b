package domain

import (
	"time"
)

type OrganisationID string

func (oid OrganisationID) String() string {
	return string(oid)
}

type Vendor string

func (v Vendor) String() string {
	return string(v)
}

// InstallID identifies one install of an integration.  A re-install mints a
// new InstallID, which invalidates any continuation chain started under the
// previous install.
type InstallID string

func (iid InstallID) String() string {
	return string(iid)
}

// Credentials is the decrypted vendor credential set.  Which fields are
// populated depends on the vendor (OAuth token pair vs API key).  Attributes
// carries the vendor routing attributes (subdomain, workspace slug, portal
// id, account id) captured during authentication.
type Credentials struct {
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	APIKey       string            `json:"api_key,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Organisation is one tenant's installed integration instance.  At most one
// row exists per organisation id.
type Organisation struct {
	ID                   OrganisationID
	Vendor               Vendor
	InstallID            InstallID
	Region               string
	EncryptedCredentials string
	Attributes           map[string]string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CanonicalUser is the platform-neutral user record pushed to the governance
// platform.  It is produced per page and never persisted locally.
type CanonicalUser struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"displayName"`
	Email            *string  `json:"email,omitempty"`
	AdditionalEmails []string `json:"additionalEmails"`
	Role             *string  `json:"role,omitempty"`
	AuthMethod       *string  `json:"authMethod,omitempty"`
	IsSuspendable    *bool    `json:"isSuspendable,omitempty"`
	URL              *string  `json:"url,omitempty"`
}

// SyncRequest is the continuation event that drives one page iteration of a
// user sync.  The cursor is an opaque vendor-defined value: nil in a request
// means "first page", nil returned by a vendor client means "no further
// pages".  SyncStartedAt (epoch millis) is captured once when the chain
// starts and carried unchanged through every hop.
type SyncRequest struct {
	OrganisationID OrganisationID `json:"organisation_id" validate:"required"`
	InstallID      InstallID      `json:"install_id" validate:"required"`
	Vendor         Vendor         `json:"vendor" validate:"required"`
	IsFirstSync    bool           `json:"is_first_sync"`
	SyncStartedAt  int64          `json:"sync_started_at" validate:"required"`
	Phase          string         `json:"phase,omitempty"`
	Cursor         *string        `json:"cursor,omitempty"`
}

func (sr SyncRequest) SyncStartedAtTime() time.Time {
	return time.UnixMilli(sr.SyncStartedAt).UTC()
}
