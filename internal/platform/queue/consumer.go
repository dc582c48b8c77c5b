package queue

import (
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	kafka "github.com/segmentio/kafka-go"
)

func StartConsumer(cfg *ConsumerConfig) *kafka.Reader {
	logger.Log.Info("Starting a new Kafka consumer..")
	logger.Log.Info("Kafka consumer configuration: ", cfg)

	var kafkaDialer *kafka.Dialer
	var err error

	if cfg.SaslConfig != nil {
		kafkaDialer, err = saslDialer(cfg.SaslConfig)
		if err != nil {
			logger.Log.Error("Failed to create a new Kafka dialer: ", err)
			panic(err)
		}
	}

	readerConfig := kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	}

	if kafkaDialer != nil {
		readerConfig.Dialer = kafkaDialer
	}

	r := kafka.NewReader(readerConfig)

	logger.Log.Info("Consuming messages from topic: ", cfg.Topic)

	return r
}
