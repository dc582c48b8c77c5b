package bitbucket

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

const VendorName = domain.Vendor("bitbucket")

const workspaceAttribute = "workspace"

const (
	// Workspace owners are listed first so administrator records win if a
	// user shows up in both phases.
	PhaseAdministrators = "administrators"
	PhaseMembers        = "members"
)

type Client struct {
	baseUrl      string
	clientId     string
	clientSecret string
	httpClient   *http.Client
	validate     *validator.Validate
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseUrl:      cfg.BitbucketBaseUrl,
		clientId:     cfg.BitbucketClientId,
		clientSecret: cfg.BitbucketClientSecret,
		httpClient:   &http.Client{},
		validate:     validator.New(),
	}
}

func (c *Client) Vendor() domain.Vendor {
	return VendorName
}

func (c *Client) SyncPhases() []string {
	return []string{PhaseAdministrators, PhaseMembers}
}

type workspaceUser struct {
	AccountID   string `json:"account_id" validate:"required"`
	DisplayName string `json:"display_name"`
	Nickname    string `json:"nickname"`
	Links       struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

type permissionRecord struct {
	User       workspaceUser `json:"user" validate:"required"`
	Permission string        `json:"permission" validate:"required"`
}

type permissionsPage struct {
	Values []json.RawMessage `json:"values"`
	Next   string            `json:"next"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token"`
}

func (c *Client) Authenticate(ctx context.Context, authRequest connector.AuthRequest) (domain.Credentials, map[string]string, error) {

	var creds domain.Credentials

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", authRequest.Code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/site/oauth2/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return creds, nil, err
	}
	req.SetBasicAuth(c.clientId, c.clientSecret)
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

	workspace, err := c.fetchWorkspaceSlug(ctx, creds)
	if err != nil {
		return creds, nil, err
	}

	return creds, map[string]string{workspaceAttribute: workspace}, nil
}

func (c *Client) fetchWorkspaceSlug(ctx context.Context, creds domain.Credentials) (string, error) {

	resp, err := c.makeApiRequest(ctx, creds, c.baseUrl+"/2.0/workspaces?role=owner&pagelen=1")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var workspaces struct {
		Values []struct {
			Slug string `json:"slug"`
		} `json:"values"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&workspaces); err != nil {
		return "", err
	}

	if len(workspaces.Values) == 0 {
		return "", fmt.Errorf("no bitbucket workspace owned by the authenticated user")
	}

	return workspaces.Values[0].Slug, nil
}

func (c *Client) ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest connector.PageRequest) (*connector.UserPage, error) {

	// The next cursor is the full URL Bitbucket hands back, followed
	// verbatim.
	listUrl := ""
	if pageRequest.Cursor != nil {
		listUrl = *pageRequest.Cursor
	} else {
		workspace := creds.Attributes[workspaceAttribute]
		if workspace == "" {
			return nil, fmt.Errorf("missing %s attribute for bitbucket organisation", workspaceAttribute)
		}

		permissionFilter := `permission="member"`
		if pageRequest.Phase == PhaseAdministrators {
			permissionFilter = `permission="owner"`
		}

		listUrl = fmt.Sprintf("%s/2.0/workspaces/%s/permissions?pagelen=%d&q=%s",
			c.baseUrl, url.PathEscape(workspace), pageRequest.PageSize, url.QueryEscape(permissionFilter))
	}

	resp, err := c.makeApiRequest(ctx, creds, listUrl)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body permissionsPage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed bitbucket permissions response: %w", err)
	}

	page := &connector.UserPage{
		NextCursor: cursor.FromNextURL(body.Next),
	}

	for _, rawRecord := range body.Values {
		var record permissionRecord
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

	return page, nil
}

func (c *Client) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {

	workspace := creds.Attributes[workspaceAttribute]
	deleteUrl := fmt.Sprintf("%s/2.0/workspaces/%s/members/%s", c.baseUrl, url.PathEscape(workspace), url.PathEscape(userID))

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
		logger.Log.WithFields(logrus.Fields{"user_id": userID}).Debug("Bitbucket workspace member already gone")
		return nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return connector.NewVendorAPIError(VendorName, resp)
	}

	return nil
}

func (c *Client) makeApiRequest(ctx context.Context, creds domain.Credentials, requestUrl string) (*http.Response, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestUrl, nil)
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

func mapUser(record permissionRecord) domain.CanonicalUser {

	user := domain.CanonicalUser{
		ID:          record.User.AccountID,
		DisplayName: record.User.DisplayName,
	}

	if user.DisplayName == "" {
		user.DisplayName = record.User.Nickname
	}

	role := record.Permission
	user.Role = &role

	if record.User.Links.HTML.Href != "" {
		profileURL := record.User.Links.HTML.Href
		user.URL = &profileURL
	}

	isSuspendable := record.Permission != "owner"
	user.IsSuspendable = &isSuspendable

	return user
}
