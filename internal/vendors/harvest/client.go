package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/connector/cursor"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const VendorName = domain.Vendor("harvest")

const accountIDAttribute = "account_id"

// Users can hold several access roles at once; the highest ranked one
// becomes the canonical role.
var rolePriority = []string{"administrator", "manager", "member"}

type Client struct {
	baseUrl    string
	httpClient *http.Client
	validate   *validator.Validate
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseUrl:    cfg.HarvestBaseUrl,
		httpClient: &http.Client{},
		validate:   validator.New(),
	}
}

func (c *Client) Vendor() domain.Vendor {
	return VendorName
}

func (c *Client) SyncPhases() []string {
	return []string{"users"}
}

type userRecord struct {
	ID          int64    `json:"id" validate:"required"`
	FirstName   string   `json:"first_name"`
	LastName    string   `json:"last_name"`
	Email       string   `json:"email" validate:"required"`
	AccessRoles []string `json:"access_roles"`
	IsActive    bool     `json:"is_active"`
}

type usersPage struct {
	Users []json.RawMessage `json:"users"`
}

// Authenticate verifies an API token and account id pair by fetching the
// calling user.  Harvest has no OAuth code exchange in this flow.
func (c *Client) Authenticate(ctx context.Context, authRequest connector.AuthRequest) (domain.Credentials, map[string]string, error) {

	creds := domain.Credentials{
		APIKey: authRequest.APIKey,
		Attributes: map[string]string{
			accountIDAttribute: authRequest.Attributes[accountIDAttribute],
		},
	}

	if creds.Attributes[accountIDAttribute] == "" {
		return creds, nil, fmt.Errorf("missing %s for harvest installation", accountIDAttribute)
	}

	resp, err := c.makeApiRequest(ctx, creds, http.MethodGet, c.baseUrl+"/v2/users/me")
	if err != nil {
		return creds, nil, err
	}
	resp.Body.Close()

	return creds, creds.Attributes, nil
}

func (c *Client) ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest connector.PageRequest) (*connector.UserPage, error) {

	currentPage, err := cursor.DecodeInt(pageRequest.Cursor, 1)
	if err != nil {
		return nil, err
	}

	listUrl := fmt.Sprintf("%s/v2/users?page=%d&per_page=%d", c.baseUrl, currentPage, pageRequest.PageSize)

	resp, err := c.makeApiRequest(ctx, creds, http.MethodGet, listUrl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body usersPage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed harvest users response: %w", err)
	}

	page := &connector.UserPage{}

	for _, rawRecord := range body.Users {
		var record userRecord
		if err := json.Unmarshal(rawRecord, &record); err != nil {
			page.InvalidRecords = append(page.InvalidRecords, rawRecord)
			continue
		}
		if err := c.validate.Struct(record); err != nil {
			page.InvalidRecords = append(page.InvalidRecords, rawRecord)
			continue
		}
		page.ValidUsers = append(page.ValidUsers, mapUser(record))
	}

	// A short page means the listing is exhausted.
	if len(body.Users) >= pageRequest.PageSize {
		page.NextCursor = cursor.EncodeInt(currentPage + 1)
	}

	return page, nil
}

func (c *Client) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {

	deleteUrl := fmt.Sprintf("%s/v2/users/%s", c.baseUrl, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteUrl, nil)
	if err != nil {
		return err
	}
	c.setAuthHeaders(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connector.NewTransientVendorError(VendorName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		logger.Log.WithFields(logrus.Fields{"user_id": userID}).Debug("Harvest user already gone")
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return connector.NewVendorAPIError(VendorName, resp)
	}

	return nil
}

func (c *Client) makeApiRequest(ctx context.Context, creds domain.Credentials, method string, requestUrl string) (*http.Response, error) {

	req, err := http.NewRequestWithContext(ctx, method, requestUrl, nil)
	if err != nil {
		return nil, err
	}
	c.setAuthHeaders(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connector.NewTransientVendorError(VendorName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, connector.NewVendorAPIError(VendorName, resp)
	}

	return resp, nil
}

func (c *Client) setAuthHeaders(req *http.Request, creds domain.Credentials) {
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	req.Header.Set("Harvest-Account-Id", creds.Attributes[accountIDAttribute])
}

func mapUser(record userRecord) domain.CanonicalUser {

	displayName := strings.TrimSpace(record.FirstName + " " + record.LastName)
	if displayName == "" {
		displayName = record.Email
	}

	email := record.Email

	user := domain.CanonicalUser{
		ID:          strconv.FormatInt(record.ID, 10),
		DisplayName: displayName,
		Email:       &email,
	}

	role := highestPriorityRole(record.AccessRoles)
	if role != "" {
		user.Role = &role
	}

	isSuspendable := role != "administrator"
	user.IsSuspendable = &isSuspendable

	return user
}

func highestPriorityRole(roles []string) string {
	for _, candidate := range rolePriority {
		for _, role := range roles {
			if role == candidate {
				return candidate
			}
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return ""
}
