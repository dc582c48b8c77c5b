package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/connector/cursor"
	"github.com/identity-sync/saas-connector/internal/domain"

	"github.com/go-playground/validator/v10"
)

const VendorName = domain.Vendor("monday")

const accountSlugAttribute = "account_slug"

type Client struct {
	baseUrl    string
	httpClient *http.Client
	validate   *validator.Validate
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseUrl:    cfg.MondayBaseUrl,
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
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	IsGuest bool   `json:"is_guest"`
	URL     string `json:"url"`
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *Client) Authenticate(ctx context.Context, authRequest connector.AuthRequest) (domain.Credentials, map[string]string, error) {

	creds := domain.Credentials{APIKey: authRequest.APIKey}

	var response struct {
		Data struct {
			Me struct {
				ID string `json:"id"`
			} `json:"me"`
			Account struct {
				Slug string `json:"slug"`
			} `json:"account"`
		} `json:"data"`
	}

	query := graphqlRequest{Query: `query { me { id } account { slug } }`}

	if err := c.makeGraphqlRequest(ctx, creds, query, &response); err != nil {
		return creds, nil, err
	}

	if response.Data.Me.ID == "" {
		return creds, nil, fmt.Errorf("monday token verification returned no user")
	}

	attributes := map[string]string{
		accountSlugAttribute: response.Data.Account.Slug,
	}

	return creds, attributes, nil
}

func (c *Client) ListUsersPage(ctx context.Context, creds domain.Credentials, pageRequest connector.PageRequest) (*connector.UserPage, error) {

	currentPage, err := cursor.DecodeInt(pageRequest.Cursor, 1)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data struct {
			Users []json.RawMessage `json:"users"`
		} `json:"data"`
	}

	query := graphqlRequest{
		Query: `query ($limit: Int!, $page: Int!) { users (limit: $limit, page: $page) { id name email is_admin is_guest url } }`,
		Variables: map[string]interface{}{
			"limit": pageRequest.PageSize,
			"page":  currentPage,
		},
	}

	if err := c.makeGraphqlRequest(ctx, creds, query, &response); err != nil {
		return nil, err
	}

	page := &connector.UserPage{
		// An empty result array is the only end-of-listing signal.
		NextCursor: cursor.NextPage(currentPage, len(response.Data.Users)),
	}

	for _, rawRecord := range response.Data.Users {
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

	return page, nil
}

func (c *Client) DeleteUser(ctx context.Context, creds domain.Credentials, userID string) error {

	var response struct {
		Data struct {
			DeactivateUsers []struct {
				ID string `json:"id"`
			} `json:"deactivate_users"`
		} `json:"data"`
	}

	query := graphqlRequest{
		Query: `mutation ($userIds: [ID!]!) { deactivate_users (user_ids: $userIds) { id } }`,
		Variables: map[string]interface{}{
			"userIds": []string{userID},
		},
	}

	// Deactivating an unknown or already deactivated user is not an error;
	// the mutation just returns an empty set.
	return c.makeGraphqlRequest(ctx, creds, query, &response)
}

func (c *Client) makeGraphqlRequest(ctx context.Context, creds domain.Credentials, query graphqlRequest, response interface{}) error {

	requestBytes, err := json.Marshal(query)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+"/v2", bytes.NewBuffer(requestBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", creds.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connector.NewTransientVendorError(VendorName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return connector.NewVendorAPIError(VendorName, resp)
	}

	var envelope struct {
		Errors []graphqlError `json:"errors"`
	}

	bodyBuffer := &bytes.Buffer{}
	if _, err := bodyBuffer.ReadFrom(resp.Body); err != nil {
		return err
	}

	if err := json.Unmarshal(bodyBuffer.Bytes(), &envelope); err != nil {
		return fmt.Errorf("malformed monday graphql response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		return fmt.Errorf("monday graphql error: %s", envelope.Errors[0].Message)
	}

	return json.Unmarshal(bodyBuffer.Bytes(), response)
}

func mapUser(record userRecord) domain.CanonicalUser {

	user := domain.CanonicalUser{
		ID:          record.ID,
		DisplayName: record.Name,
	}

	if record.Email != "" {
		email := record.Email
		user.Email = &email
	}

	role := "member"
	switch {
	case record.IsAdmin:
		role = "admin"
	case record.IsGuest:
		role = "guest"
	}
	user.Role = &role

	if record.URL != "" {
		profileURL := record.URL
		user.URL = &profileURL
	}

	isSuspendable := !record.IsAdmin
	user.IsSuspendable = &isSuspendable

	return user
}
