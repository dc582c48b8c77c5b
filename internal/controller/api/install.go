package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/governance"
	"github.com/identity-sync/saas-connector/internal/middlewares"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
	"github.com/identity-sync/saas-connector/internal/platform/utils/jwt_utils"
	"github.com/identity-sync/saas-connector/internal/secrets"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// InstallServer drives the installation flow: issue a signed state token,
// take the vendor's OAuth callback (or an API key), store encrypted
// credentials, and kick off the organisation's first sync.
type InstallServer struct {
	organisationRegistrar organisation_repository.OrganisationRegistrar
	vendorClients         connector.VendorClientResolver
	credentialCipher      secrets.Cipher
	syncEmitter           connector.ContinuationEmitter
	governanceClient      governance.Client
	router                *mux.Router
	config                *config.Config
}

func NewInstallServer(registrar organisation_repository.OrganisationRegistrar, vendorClients connector.VendorClientResolver, credentialCipher secrets.Cipher, syncEmitter connector.ContinuationEmitter, governanceClient governance.Client, r *mux.Router, cfg *config.Config) *InstallServer {
	return &InstallServer{
		organisationRegistrar: registrar,
		vendorClients:         vendorClients,
		credentialCipher:      credentialCipher,
		syncEmitter:           syncEmitter,
		governanceClient:      governanceClient,
		router:                r,
		config:                cfg,
	}
}

func (s *InstallServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix("/install").Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/start", s.handleInstallStart()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/api-key", s.handleApiKeyInstall()).Methods(http.MethodPost)

	// The OAuth callback is hit by the vendor's consent screen redirect;
	// its authenticity comes from the signed state token.
	callbackSubRouter := s.router.PathPrefix("/oauth").Subrouter()
	callbackSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics)

	callbackSubRouter.HandleFunc("/callback", s.handleOauthCallback()).Methods(http.MethodPost)
}

type installStartRequest struct {
	OrganisationID string `json:"organisation_id" validate:"required"`
	Vendor         string `json:"vendor" validate:"required"`
}

type installStartResponse struct {
	State     string `json:"state"`
	ExpiresIn int    `json:"expires_in"`
}

type oauthCallbackRequest struct {
	State string `json:"state" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type apiKeyInstallRequest struct {
	OrganisationID string            `json:"organisation_id" validate:"required"`
	Vendor         string            `json:"vendor" validate:"required"`
	ApiKey         string            `json:"api_key" validate:"required"`
	Attributes     map[string]string `json:"attributes"`
}

func (s *InstallServer) handleInstallStart() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var startRequest installStartRequest

		if err := decodeJSON(body, &startRequest); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		if _, err := s.vendorClients.Resolve(domain.Vendor(startRequest.Vendor)); err != nil {
			errorResponse := errorResponse{Title: "Unknown vendor",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		state, err := jwt_utils.CreateInstallStateToken(
			s.config.InstallStateSigningKey,
			domain.OrganisationID(startRequest.OrganisationID),
			domain.Vendor(startRequest.Vendor),
			s.config.InstallStateTokenExpiry)
		if err != nil {
			logger.LogError("Unable to create an install state token", err)
			errorResponse := errorResponse{Title: "Unable to start installation",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		response := installStartResponse{
			State:     state,
			ExpiresIn: int(s.config.InstallStateTokenExpiry.Seconds()),
		}

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *InstallServer) handleOauthCallback() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var callbackRequest oauthCallbackRequest

		if err := decodeJSON(body, &callbackRequest); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		orgID, vendor, err := jwt_utils.ParseInstallStateToken(s.config.InstallStateSigningKey, callbackRequest.State)
		if err != nil {
			logger.LogError("Rejected an oauth callback with a bad state token", err)
			errorResponse := errorResponse{Title: "Invalid state token",
				Status: http.StatusUnauthorized,
				Detail: "Invalid state token"}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		s.completeInstallation(w, req, orgID, vendor, connector.AuthRequest{Code: callbackRequest.Code})
	}
}

func (s *InstallServer) handleApiKeyInstall() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		body := http.MaxBytesReader(w, req.Body, 1048576)

		var installRequest apiKeyInstallRequest

		if err := decodeJSON(body, &installRequest); err != nil {
			errorResponse := errorResponse{Title: "Unable to process json input",
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		authRequest := connector.AuthRequest{
			APIKey:     installRequest.ApiKey,
			Attributes: installRequest.Attributes,
		}

		s.completeInstallation(w, req, domain.OrganisationID(installRequest.OrganisationID), domain.Vendor(installRequest.Vendor), authRequest)
	}
}

func (s *InstallServer) completeInstallation(w http.ResponseWriter, req *http.Request, orgID domain.OrganisationID, vendor domain.Vendor, authRequest connector.AuthRequest) {

	log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID, "vendor": vendor})

	vendorClient, err := s.vendorClients.Resolve(vendor)
	if err != nil {
		errorResponse := errorResponse{Title: "Unknown vendor",
			Status: http.StatusBadRequest,
			Detail: err.Error()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	creds, attributes, err := vendorClient.Authenticate(req.Context(), authRequest)
	if err != nil {
		logger.LogWithError(log, "Vendor authentication failed during installation", err)
		errorResponse := errorResponse{Title: "Vendor authentication failed",
			Status: http.StatusBadGateway,
			Detail: err.Error()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	credentialBytes, err := json.Marshal(creds)
	if err != nil {
		logger.LogWithError(log, "Unable to serialize credentials", err)
		errorResponse := errorResponse{Title: "Unable to complete installation",
			Status: http.StatusInternalServerError,
			Detail: err.Error()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	encryptedCredentials, err := s.credentialCipher.Encrypt(req.Context(), string(credentialBytes))
	if err != nil {
		logger.LogWithError(log, "Unable to encrypt credentials", err)
		errorResponse := errorResponse{Title: "Unable to complete installation",
			Status: http.StatusInternalServerError,
			Detail: err.Error()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	// A fresh install id supersedes any sync chain started by a previous
	// installation of this organisation.
	installID := domain.InstallID(uuid.NewString())

	org := domain.Organisation{
		ID:                   orgID,
		Vendor:               vendor,
		InstallID:            installID,
		EncryptedCredentials: encryptedCredentials,
		Attributes:           attributes,
	}

	registrationResults, err := s.organisationRegistrar.Register(req.Context(), org)
	if err != nil {
		logger.LogWithError(log, "Unable to register the organisation", err)
		errorResponse := errorResponse{Title: "Unable to complete installation",
			Status: http.StatusInternalServerError,
			Detail: err.Error()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	syncRequest := domain.SyncRequest{
		OrganisationID: orgID,
		InstallID:      installID,
		Vendor:         vendor,
		IsFirstSync:    true,
		SyncStartedAt:  time.Now().UTC().UnixMilli(),
	}

	if err := s.syncEmitter.Emit(req.Context(), syncRequest); err != nil {
		logger.LogWithError(log, "Unable to schedule the first sync", err)
		errorResponse := errorResponse{Title: "Unable to schedule the first sync",
			Status: http.StatusInternalServerError,
			Detail: err.Error()}
		writeJSONResponse(w, errorResponse.Status, errorResponse)
		return
	}

	if err := s.governanceClient.UpdateConnectionStatus(req.Context(), orgID, false); err != nil {
		logger.LogWithError(log, "Unable to mark the new connection as healthy", err)
	}

	log.WithFields(logrus.Fields{"registration": registrationResults}).Info("Completed an installation")

	writeJSONResponse(w, http.StatusCreated, struct{}{})
}
