package hubspot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/connector/cursor"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const VendorName = domain.Vendor("hubspot")

// The portal id is needed to build profile URLs in the HubSpot web app.
const portalIDAttribute = "portal_id"

type Client struct {
	baseUrl      string
	clientId     string
	clientSecret string
	redirectUrl  string
	httpClient   *http.Client
	validate     *validator.Validate
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseUrl:      cfg.HubspotBaseUrl,
		clientId:     cfg.HubspotClientId,
		clientSecret: cfg.HubspotClientSecret,
		redirectUrl:  cfg.OauthRedirectUrl,
		httpClient:   &http.Client{},
		validate:     validator.New(),
	}
}

func (c *Client) Vendor() domain.Vendor {
	return VendorName
}

func (c *Client) SyncPhases() []string {
	return []string{"users"}
}

type userRecord struct {
	ID         string `json:"id" validate:"required"`
	Email      string `json:"email" validate:"required"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	SuperAdmin bool   `json:"superAdmin"`
}

type usersPage struct {
	Results []json.RawMessage `json:"results"`
	Paging  struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) Authenticate(ctx context.Context, authRequest connector.AuthRequest) (domain.Credentials, map[string]string, error) {

	var creds domain.Credentials

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.clientId)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", c.redirectUrl)
	form.Set("code", authRequest.Code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/oauth/v1/token", strings.NewReader(form.Encode()))
	if err != nil {
		return creds, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return creds, nil, connector.NewTransientVendorError(VendorName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return creds, nil, connector.NewVendorAPIError(VendorName, resp)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return creds, nil, err
	}

	if err := c.validate.Struct(token); err != nil {
		return creds, nil, err
	}

	creds.AccessToken = token.AccessToken
	creds.RefreshToken = token.RefreshToken

	portalID, err := c.fetchPortalID(ctx, creds)
	if err != nil {
		return creds, nil, err
	}

	return creds, map[string]string{portalIDAttribute: portalID}, nil
}

func (c *Client) fetchPortalID(ctx context.Context, creds domain.Credentials) (string, error) {

	resp, err := c.makeApiRequest(ctx, creds, http.MethodGet, c.baseUrl+"/oauth/v1/access-tokens/"+url.PathEscape(creds.AccessToken))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tokenInfo struct {
		HubID json.Number `json:"hub_id"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		return "", err
	}

	return tokenInfo.HubID.String(), nil
}

func (c *Client) ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest connector.PageRequest) (*connector.UserPage, error) {

	listUrl := fmt.Sprintf("%s/settings/v3/users?limit=%d", c.baseUrl, pageRequest.PageSize)
	if pageRequest.Cursor != nil {
		listUrl += "&after=" + url.QueryEscape(*pageRequest.Cursor)
	}

	resp, err := c.makeApiRequest(ctx, creds, http.MethodGet, listUrl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body usersPage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed hubspot users response: %w", err)
	}

	page := &connector.UserPage{
		NextCursor: cursor.FromToken(body.Paging.Next.After),
	}

	for _, rawRecord := range body.Results {
		var record userRecord
		if err := json.Unmarshal(rawRecord, &record); err != nil {
			page.InvalidRecords = append(page.InvalidRecords, rawRecord)
			continue
		}
		if err := c.validate.Struct(record); err != nil {
			page.InvalidRecords = append(page.InvalidRecords, rawRecord)
			continue
		}
		page.ValidUsers = append(page.ValidUsers, mapUser(record, creds.Attributes))
	}

	return page, nil
}

func (c *Client) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {

	deleteUrl := fmt.Sprintf("%s/settings/v3/users/%s", c.baseUrl, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteUrl, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connector.NewTransientVendorError(VendorName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		logger.Log.WithFields(logrus.Fields{"user_id": userID}).Debug("Hubspot user already gone")
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
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

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

func mapUser(record userRecord, attributes map[string]string) domain.CanonicalUser {

	displayName := strings.TrimSpace(record.FirstName + " " + record.LastName)
	if displayName == "" {
		displayName = record.Email
	}

	email := record.Email

	user := domain.CanonicalUser{
		ID:          record.ID,
		DisplayName: displayName,
		Email:       &email,
	}

	role := "user"
	if record.SuperAdmin {
		role = "super_admin"
	}
	user.Role = &role

	if portalID := attributes[portalIDAttribute]; portalID != "" {
		profileURL := fmt.Sprintf("https://app.hubspot.com/settings/%s/users/%s", portalID, record.ID)
		user.URL = &profileURL
	}

	isSuspendable := !record.SuperAdmin
	user.IsSuspendable = &isSuspendable

	return user
}
