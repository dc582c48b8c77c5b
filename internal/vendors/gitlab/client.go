package gitlab

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

const VendorName = domain.Vendor("gitlab")

// The authenticated user's id is stored at install time so the mapper can
// mark that account as not suspendable.
const authenticatedUserIDAttribute = "authenticated_user_id"

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
		baseUrl:      cfg.GitlabBaseUrl,
		clientId:     cfg.GitlabClientId,
		clientSecret: cfg.GitlabClientSecret,
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
	ID       int64  `json:"id" validate:"required"`
	Username string `json:"username" validate:"required"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	WebURL   string `json:"web_url"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) Authenticate(ctx context.Context, authRequest connector.AuthRequest) (domain.Credentials, map[string]string, error) {

	var creds domain.Credentials

	form := url.Values{}
	form.Set("client_id", c.clientId)
	form.Set("client_secret", c.clientSecret)
	form.Set("code", authRequest.Code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.redirectUrl)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/oauth/token", strings.NewReader(form.Encode()))
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

	authenticatedUser, err := c.fetchAuthenticatedUser(ctx, creds)
	if err != nil {
		return creds, nil, err
	}

	attributes := map[string]string{
		authenticatedUserIDAttribute: strconv.FormatInt(authenticatedUser.ID, 10),
	}

	return creds, attributes, nil
}

func (c *Client) fetchAuthenticatedUser(ctx context.Context, creds domain.Credentials) (*userRecord, error) {

	resp, err := c.makeApiRequest(ctx, creds, http.MethodGet, c.baseUrl+"/api/v4/user")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var user userRecord
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	return &user, nil
}

func (c *Client) ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest connector.PageRequest) (*connector.UserPage, error) {

	listUrl := fmt.Sprintf("%s/api/v4/users?pagination=keyset&order_by=id&sort=asc&per_page=%d", c.baseUrl, pageRequest.PageSize)
	if pageRequest.Cursor != nil {
		listUrl += "&id_after=" + url.QueryEscape(*pageRequest.Cursor)
	}

	resp, err := c.makeApiRequest(ctx, creds, http.MethodGet, listUrl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rawRecords []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rawRecords); err != nil {
		return nil, fmt.Errorf("malformed gitlab users response: %w", err)
	}

	page := &connector.UserPage{}

	for _, rawRecord := range rawRecords {
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

	nextURL := cursor.FromLinkHeader(resp.Header)
	if nextURL != nil {
		idAfter, err := cursor.QueryParam(*nextURL, "id_after")
		if err != nil {
			return nil, err
		}
		page.NextCursor = cursor.FromToken(idAfter)
	}

	return page, nil
}

func (c *Client) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {

	deleteUrl := fmt.Sprintf("%s/api/v4/users/%s", c.baseUrl, url.PathEscape(userID))

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
		logger.Log.WithFields(logrus.Fields{"user_id": userID}).Debug("Gitlab user already gone")
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

	user := domain.CanonicalUser{
		ID:          strconv.FormatInt(record.ID, 10),
		DisplayName: record.Name,
	}

	if user.DisplayName == "" {
		user.DisplayName = record.Username
	}

	if record.Email != "" {
		email := record.Email
		user.Email = &email
	}

	role := "user"
	if record.IsAdmin {
		role = "admin"
	}
	user.Role = &role

	if record.WebURL != "" {
		webURL := record.WebURL
		user.URL = &webURL
	}

	isSuspendable := attributes[authenticatedUserIDAttribute] != user.ID
	user.IsSuspendable = &isSuspendable

	return user
}
