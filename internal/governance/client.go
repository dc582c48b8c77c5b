package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client is the narrow interface to the identity-governance platform.  Users
// are pushed page by page during a sync; DeleteUsersSyncedBefore is the
// watermark sweep that reconciles vendor-side deletions.
type Client interface {
	UpdateUsers(ctx context.Context, orgID domain.OrganisationID, users []domain.CanonicalUser) error
	DeleteUsersSyncedBefore(ctx context.Context, orgID domain.OrganisationID, syncedBefore time.Time) error
	UpdateConnectionStatus(ctx context.Context, orgID domain.OrganisationID, hasError bool) error
}

func NewClient(impl string, cfg *config.Config) (Client, error) {
	switch impl {
	case "http":
		return &HttpClient{
			baseUrl:     cfg.GovernancePlatformBaseUrl,
			apiKey:      cfg.GovernancePlatformApiKey,
			callTimeout: cfg.GovernancePlatformCallTimeout,
			httpClient:  &http.Client{},
		}, nil
	case "fake":
		return &FakeClient{}, nil
	default:
		return nil, errors.New("Invalid governance platform Client impl requested")
	}
}

type HttpClient struct {
	baseUrl     string
	apiKey      string
	callTimeout time.Duration
	httpClient  *http.Client
}

type updateUsersRequest struct {
	OrganisationID string                 `json:"organisationId"`
	Users          []domain.CanonicalUser `json:"users"`
}

type deleteUsersRequest struct {
	OrganisationID string `json:"organisationId"`
	SyncedBefore   string `json:"syncedBefore"`
}

type connectionStatusRequest struct {
	OrganisationID string `json:"organisationId"`
	HasError       bool   `json:"hasError"`
}

func (hc *HttpClient) UpdateUsers(ctx context.Context, orgID domain.OrganisationID, users []domain.CanonicalUser) error {

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID, "user_count": len(users)})

	payload := updateUsersRequest{
		OrganisationID: string(orgID),
		Users:          users,
	}

	if err := hc.makeHttpRequest(ctx, http.MethodPost, "/api/rest/users", payload); err != nil {
		logger.LogWithError(log, "Unable to push users to the governance platform", err)
		return err
	}

	log.Debug("Pushed a page of users to the governance platform")
	return nil
}

func (hc *HttpClient) DeleteUsersSyncedBefore(ctx context.Context, orgID domain.OrganisationID, syncedBefore time.Time) error {

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID, "synced_before": syncedBefore})

	payload := deleteUsersRequest{
		OrganisationID: string(orgID),
		SyncedBefore:   syncedBefore.UTC().Format(time.RFC3339),
	}

	if err := hc.makeHttpRequest(ctx, http.MethodDelete, "/api/rest/users", payload); err != nil {
		logger.LogWithError(log, "Unable to sweep stale users from the governance platform", err)
		return err
	}

	log.Debug("Swept stale users from the governance platform")
	return nil
}

func (hc *HttpClient) UpdateConnectionStatus(ctx context.Context, orgID domain.OrganisationID, hasError bool) error {

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID, "has_error": hasError})

	payload := connectionStatusRequest{
		OrganisationID: string(orgID),
		HasError:       hasError,
	}

	if err := hc.makeHttpRequest(ctx, http.MethodPost, "/api/rest/connection-status", payload); err != nil {
		logger.LogWithError(log, "Unable to update the connection status on the governance platform", err)
		return err
	}

	log.Debug("Updated the connection status on the governance platform")
	return nil
}

func (hc *HttpClient) makeHttpRequest(ctx context.Context, method string, path string, payload interface{}) error {

	ctx, cancel := context.WithTimeout(ctx, hc.callTimeout)
	defer cancel()

	requestID, err := uuid.NewRandom()
	if err != nil {
		return err
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := hc.baseUrl + path

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonBytes))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", hc.apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", requestID.String())

	resp, err := hc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("governance platform call %s %s failed with status %d: %s", method, path, resp.StatusCode, string(body))
	}

	return nil
}

type FakeClient struct {
}

func (fc *FakeClient) UpdateUsers(ctx context.Context, orgID domain.OrganisationID, users []domain.CanonicalUser) error {
	logger.Log.WithFields(logrus.Fields{"organisation_id": orgID}).Debug("FAKE: pushed users: ", len(users))
	return nil
}

func (fc *FakeClient) DeleteUsersSyncedBefore(ctx context.Context, orgID domain.OrganisationID, syncedBefore time.Time) error {
	logger.Log.WithFields(logrus.Fields{"organisation_id": orgID}).Debug("FAKE: swept users synced before: ", syncedBefore)
	return nil
}

func (fc *FakeClient) UpdateConnectionStatus(ctx context.Context, orgID domain.OrganisationID, hasError bool) error {
	logger.Log.WithFields(logrus.Fields{"organisation_id": orgID}).Debug("FAKE: connection status hasError: ", hasError)
	return nil
}
