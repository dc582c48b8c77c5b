package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/controller/api"
	"github.com/identity-sync/saas-connector/internal/governance"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/db"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
	"github.com/identity-sync/saas-connector/internal/platform/utils"
	"github.com/identity-sync/saas-connector/internal/secrets"
	"github.com/identity-sync/saas-connector/internal/vendors"

	"github.com/gorilla/mux"
)

func startApiServer(listenAddr string) {

	logger.Log.Info("Starting SaaS-Connector API server")

	cfg := config.GetConfig()
	logger.Log.Info("SaaS-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	organisationLocator, err := organisation_repository.NewSqlOrganisationLocator(database, cfg.OrganisationDatabaseTimeout)
	if err != nil {
		logger.LogFatalError("Failed to create SQL Organisation Locator", err)
	}

	organisationRegistrar, err := organisation_repository.NewSqlOrganisationRegistrar(database)
	if err != nil {
		logger.LogFatalError("Failed to create SQL Organisation Registrar", err)
	}

	credentialCipher, err := secrets.NewCipher(cfg.CredentialCipherImpl, cfg)
	if err != nil {
		logger.LogFatalError("Failed to create Credential Cipher", err)
	}

	governanceClient, err := governance.NewClient(cfg.GovernancePlatformImpl, cfg)
	if err != nil {
		logger.LogFatalError("Failed to create Governance Platform client", err)
	}

	vendorClients := vendors.NewRegistry(cfg)

	emitter := connector.NewKafkaContinuationEmitter(
		buildSyncEventsWriter(cfg, cfg.KafkaSyncEventsTopic),
		buildSyncEventsWriter(cfg, cfg.KafkaFirstSyncEventsTopic))

	apiMux := mux.NewRouter()

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, database)
	monitoringServer.Routes()

	apiSubRouter := apiMux.PathPrefix(cfg.UrlBasePath).Subrouter()

	installServer := api.NewInstallServer(organisationRegistrar, vendorClients, credentialCipher, emitter, governanceClient, apiSubRouter, cfg)
	installServer.Routes()

	managementServer := api.NewManagementServer(organisationLocator, organisationRegistrar, vendorClients, credentialCipher, emitter, apiSubRouter, cfg)
	managementServer.Routes()

	apiSrv := utils.StartHTTPServer(listenAddr, "api", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "api", apiSrv)

	logger.Log.Info("SaaS-Connector shutting down")
}
