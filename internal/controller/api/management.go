package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/middlewares"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
	"github.com/identity-sync/saas-connector/internal/secrets"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type ManagementServer struct {
	organisationLocator   organisation_repository.OrganisationLocator
	organisationRegistrar organisation_repository.OrganisationRegistrar
	vendorClients         connector.VendorClientResolver
	credentialCipher      secrets.Cipher
	syncEmitter           connector.ContinuationEmitter
	router                *mux.Router
	config                *config.Config
}

func NewManagementServer(locator organisation_repository.OrganisationLocator, registrar organisation_repository.OrganisationRegistrar, vendorClients connector.VendorClientResolver, credentialCipher secrets.Cipher, syncEmitter connector.ContinuationEmitter, r *mux.Router, cfg *config.Config) *ManagementServer {
	return &ManagementServer{
		organisationLocator:   locator,
		organisationRegistrar: registrar,
		vendorClients:         vendorClients,
		credentialCipher:      credentialCipher,
		syncEmitter:           syncEmitter,
		router:                r,
		config:                cfg,
	}
}

func (s *ManagementServer) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: s.config.ServiceToServiceCredentials}

	securedSubRouter := s.router.PathPrefix("/organisations").Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("", s.handleOrganisationListing()).Methods(http.MethodGet)
	securedSubRouter.HandleFunc("/{id}/sync", s.handleSyncTrigger()).Methods(http.MethodPost)
	securedSubRouter.HandleFunc("/{id}/users/{userId}", s.handleUserDeletion()).Methods(http.MethodDelete)
	securedSubRouter.HandleFunc("/{id}", s.handleUnregister()).Methods(http.MethodDelete)
}

type organisationResponse struct {
	ID         string            `json:"id"`
	Vendor     string            `json:"vendor"`
	Region     string            `json:"region,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (s *ManagementServer) handleOrganisationListing() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		offset, limit := getOffsetAndLimitFromQueryParams(req.URL)

		organisations, total, err := s.organisationLocator.List(req.Context(), offset, limit)
		if err != nil {
			errorResponse := errorResponse{Title: "Unable to list organisations",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		data := make([]organisationResponse, 0, len(organisations))
		for _, org := range organisations {
			data = append(data, organisationResponse{
				ID:         string(org.ID),
				Vendor:     string(org.Vendor),
				Region:     org.Region,
				Attributes: org.Attributes,
				CreatedAt:  org.CreatedAt,
				UpdatedAt:  org.UpdatedAt,
			})
		}

		response := buildPaginatedResponse(req.URL, offset, limit, total, data)

		writeJSONResponse(w, http.StatusOK, response)
	}
}

func (s *ManagementServer) handleSyncTrigger() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		orgID := domain.OrganisationID(mux.Vars(req)["id"])

		log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID})

		org, err := s.organisationLocator.FindByID(req.Context(), orgID)
		if err != nil {
			if errors.Is(err, organisation_repository.NotFoundError) {
				errorResponse := errorResponse{Title: "Organisation not found",
					Status: http.StatusNotFound,
					Detail: err.Error()}
				writeJSONResponse(w, errorResponse.Status, errorResponse)
				return
			}

			errorResponse := errorResponse{Title: "Unable to look up organisation",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		syncRequest := domain.SyncRequest{
			OrganisationID: org.ID,
			InstallID:      org.InstallID,
			Vendor:         org.Vendor,
			IsFirstSync:    false,
			SyncStartedAt:  time.Now().UTC().UnixMilli(),
		}

		if err := s.syncEmitter.Emit(req.Context(), syncRequest); err != nil {
			logger.LogWithError(log, "Unable to emit a sync request", err)
			errorResponse := errorResponse{Title: "Unable to trigger sync",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		log.Info("Manually triggered a sync")

		writeJSONResponse(w, http.StatusAccepted, struct{}{})
	}
}

func (s *ManagementServer) handleUserDeletion() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		orgID := domain.OrganisationID(mux.Vars(req)["id"])
		userID := mux.Vars(req)["userId"]

		log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID, "user_id": userID})

		org, err := s.organisationLocator.FindByID(req.Context(), orgID)
		if err != nil {
			if errors.Is(err, organisation_repository.NotFoundError) {
				errorResponse := errorResponse{Title: "Organisation not found",
					Status: http.StatusNotFound,
					Detail: err.Error()}
				writeJSONResponse(w, errorResponse.Status, errorResponse)
				return
			}

			errorResponse := errorResponse{Title: "Unable to look up organisation",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		vendorClient, err := s.vendorClients.Resolve(org.Vendor)
		if err != nil {
			logger.LogWithError(log, "No client registered for the organisation's vendor", err)
			errorResponse := errorResponse{Title: "Unable to resolve vendor client",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		creds, err := connector.DecryptCredentials(req.Context(), s.credentialCipher, org)
		if err != nil {
			logger.LogWithError(log, "Unable to decrypt the organisation's credentials", err)
			errorResponse := errorResponse{Title: "Unable to decrypt credentials",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		if err := vendorClient.DeleteUser(req.Context(), creds, userID); err != nil {
			logger.LogWithError(log, "Vendor user deletion failed", err)

			status := http.StatusInternalServerError
			var apiError *connector.VendorAPIError
			if errors.As(err, &apiError) {
				status = http.StatusBadGateway
			}

			errorResponse := errorResponse{Title: "Unable to delete user at the vendor",
				Status: status,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		log.Info("Deleted a user at the vendor")

		writeJSONResponse(w, http.StatusOK, struct{}{})
	}
}

func (s *ManagementServer) handleUnregister() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		orgID := domain.OrganisationID(mux.Vars(req)["id"])

		log := logger.Log.WithFields(logrus.Fields{"organisation_id": orgID})

		// In-flight sync chains die on their next step once the row is
		// gone.
		if err := s.organisationRegistrar.Unregister(req.Context(), orgID); err != nil {
			logger.LogWithError(log, "Unable to unregister the organisation", err)
			errorResponse := errorResponse{Title: "Unable to unregister organisation",
				Status: http.StatusInternalServerError,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		log.Info("Unregistered an organisation")

		writeJSONResponse(w, http.StatusOK, struct{}{})
	}
}
