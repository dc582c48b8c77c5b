package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/controller/api"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/db"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
	"github.com/identity-sync/saas-connector/internal/platform/utils"
	"github.com/identity-sync/saas-connector/internal/scheduler"

	"github.com/gorilla/mux"
)

func startSyncScheduler(mgmtAddr string, scheduleNow bool) {

	logger.Log.Info("Starting SaaS-Connector sync scheduler")

	cfg := config.GetConfig()
	logger.Log.Info("SaaS-Connector configuration:\n", cfg)

	gormDB, err := db.InitializeGormDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.LogFatalError("Unable to access the underlying database handle: ", err)
	}

	emitter := connector.NewKafkaContinuationEmitter(
		buildSyncEventsWriter(cfg, cfg.KafkaSyncEventsTopic),
		buildSyncEventsWriter(cfg, cfg.KafkaFirstSyncEventsTopic))

	walkOrganisations := func(ctx context.Context, processOrganisation func(ctx context.Context, org domain.Organisation)) error {
		return organisation_repository.ProcessAllOrganisations(
			ctx,
			gormDB,
			cfg.OrganisationDatabaseTimeout,
			cfg.SyncSchedulerChunkSize,
			func(ctx context.Context, org domain.Organisation) error {
				processOrganisation(ctx, org)
				return nil
			})
	}

	syncScheduler := scheduler.NewScheduler(cfg.SyncScheduleInterval, walkOrganisations, emitter)

	shutdownCtx, shutdownCtxCancel := context.WithCancel(context.Background())

	if scheduleNow {
		syncScheduler.ScheduleSyncsNow(shutdownCtx)
	}

	schedulerStopped := make(chan struct{})

	go func() {
		syncScheduler.Run(shutdownCtx)
		close(schedulerStopped)
	}()

	apiMux := mux.NewRouter()

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, sqlDB)
	monitoringServer.Routes()

	apiSrv := utils.StartHTTPServer(mgmtAddr, "management", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)
	shutdownCtxCancel()

	<-schedulerStopped

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "management", apiSrv)

	logger.Log.Info("SaaS-Connector shutting down")
}
