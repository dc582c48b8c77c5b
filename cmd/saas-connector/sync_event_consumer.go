package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/controller/api"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/governance"
	"github.com/identity-sync/saas-connector/internal/organisation_repository"
	"github.com/identity-sync/saas-connector/internal/platform/db"
	"github.com/identity-sync/saas-connector/internal/platform/logger"
	"github.com/identity-sync/saas-connector/internal/platform/queue"
	"github.com/identity-sync/saas-connector/internal/platform/utils"
	"github.com/identity-sync/saas-connector/internal/secrets"
	"github.com/identity-sync/saas-connector/internal/vendors"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

func startSyncEventConsumer(mgmtAddr string, consumeFirstSyncs bool) {

	logger.Log.Info("Starting SaaS-Connector sync event consumer")

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

	credentialCipher, err := secrets.NewCipher(cfg.CredentialCipherImpl, cfg)
	if err != nil {
		logger.LogFatalError("Failed to create Credential Cipher", err)
	}

	governanceClient, err := governance.NewClient(cfg.GovernancePlatformImpl, cfg)
	if err != nil {
		logger.LogFatalError("Failed to create Governance Platform client", err)
	}

	vendorClients := vendors.NewRegistry(cfg)

	driver := connector.NewDriver(cfg, organisationLocator, credentialCipher, vendorClients, governanceClient)

	emitter := connector.NewKafkaContinuationEmitter(
		buildSyncEventsWriter(cfg, cfg.KafkaSyncEventsTopic),
		buildSyncEventsWriter(cfg, cfg.KafkaFirstSyncEventsTopic))

	processor := connector.NewProcessor(cfg, driver, emitter)

	topic := cfg.KafkaSyncEventsTopic
	if consumeFirstSyncs {
		topic = cfg.KafkaFirstSyncEventsTopic
	}

	kafkaReader := queue.StartConsumer(&queue.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: buildKafkaSaslConfig(cfg),
		Topic:      topic,
		GroupID:    cfg.KafkaSyncEventsGroupID,
	})

	shutdownCtx, shutdownCtxCancel := context.WithCancel(context.Background())

	// If the kafka consumer runs into a fatal error, notify the
	// main thread so that it can shutdown the process
	fatalProcessingError := make(chan struct{})

	go consumeSyncEvents(shutdownCtx, kafkaReader, processor, fatalProcessingError)

	apiMux := mux.NewRouter()

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, database)
	monitoringServer.Routes()

	apiSrv := utils.StartHTTPServer(mgmtAddr, "management", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		logger.Log.Info("Received signal to shutdown: ", sig)
		shutdownCtxCancel() // Notify the consumer to shutdown
	case <-fatalProcessingError:
		logger.Log.Info("Received a fatal processing error...shutting down!")
		shutdownCtxCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "management", apiSrv)

	logger.Log.Info("SaaS-Connector shutting down")
}

func consumeSyncEvents(ctx context.Context, kafkaReader *kafka.Reader, processor *connector.Processor, fatalProcessingError chan struct{}) {

	defer func() {
		if err := kafkaReader.Close(); err != nil {
			logger.LogError("Failed to close kafka reader", err)
		}
	}()

	for {
		message, err := kafkaReader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Log.Info("Stopped reading kafka messages")
				return
			}
			logger.LogError("Error reading from kafka:", err)
			fatalProcessingError <- struct{}{}
			return
		}

		metrics.syncEventsReceivedCounter.Inc()

		log := logger.Log.WithFields(logrus.Fields{
			"organisation_id": string(message.Key),
			"partition":       message.Partition,
			"offset":          message.Offset,
		})

		log.Debug("Read sync event off of kafka topic")

		var syncRequest domain.SyncRequest
		if err := json.Unmarshal(message.Value, &syncRequest); err != nil {
			logger.LogWithError(log, "Unable to parse sync event.  Skipping message.", err)
			metrics.malformedSyncEventsCounter.Inc()
		} else if err := processor.Process(ctx, syncRequest); err != nil {
			if ctx.Err() != nil {
				logger.Log.Info("Stopped reading kafka messages")
				return
			}
			// Retries are exhausted.  The chain dies here; the next
			// scheduled sync starts a fresh one.
			logger.LogWithError(log, "Sync event processing failed.  Dropping the chain.", err)
			metrics.droppedSyncChainsCounter.Inc()
		}

		if err := kafkaReader.CommitMessages(ctx, message); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.LogError("Error committing message:", err)
			fatalProcessingError <- struct{}{}
			return
		}
	}
}

func buildSyncEventsWriter(cfg *config.Config, topic string) *kafka.Writer {
	return queue.StartProducer(&queue.ProducerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: buildKafkaSaslConfig(cfg),
		Topic:      topic,
		BatchSize:  cfg.KafkaSyncEventsBatchSize,
		BatchBytes: cfg.KafkaSyncEventsBatchBytes,
		Balancer:   "hash",
	})
}

func buildKafkaSaslConfig(cfg *config.Config) *queue.SaslConfig {
	if cfg.KafkaSASLMechanism == "" {
		return nil
	}

	return &queue.SaslConfig{
		SaslMechanism: cfg.KafkaSASLMechanism,
		SaslUsername:  cfg.KafkaUsername,
		SaslPassword:  cfg.KafkaPassword,
		KafkaCA:       cfg.KafkaCA,
	}
}

type consumerMetrics struct {
	syncEventsReceivedCounter  prometheus.Counter
	malformedSyncEventsCounter prometheus.Counter
	droppedSyncChainsCounter   prometheus.Counter
}

func newConsumerMetrics() *consumerMetrics {
	metrics := new(consumerMetrics)

	metrics.syncEventsReceivedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saas_connector_sync_events_received_count",
		Help: "The number of sync events received from kafka",
	})

	metrics.malformedSyncEventsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saas_connector_malformed_sync_events_count",
		Help: "The number of sync events that could not be parsed",
	})

	metrics.droppedSyncChainsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saas_connector_dropped_sync_chains_count",
		Help: "The number of sync chains dropped after exhausting retries",
	})

	return metrics
}

var (
	metrics = newConsumerMetrics()
)
