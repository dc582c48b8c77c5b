package connector

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/identity-sync/saas-connector/internal/config"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaContinuationEmitter publishes continuation requests.  Messages are
// keyed by organisation id so every step of a chain lands on the same
// partition and runs in order.
type KafkaContinuationEmitter struct {
	syncEventsWriter      *kafka.Writer
	firstSyncEventsWriter *kafka.Writer
}

func NewKafkaContinuationEmitter(syncEventsWriter *kafka.Writer, firstSyncEventsWriter *kafka.Writer) *KafkaContinuationEmitter {
	return &KafkaContinuationEmitter{
		syncEventsWriter:      syncEventsWriter,
		firstSyncEventsWriter: firstSyncEventsWriter,
	}
}

func (kce *KafkaContinuationEmitter) Emit(ctx context.Context, syncRequest domain.SyncRequest) error {

	messageBytes, err := json.Marshal(syncRequest)
	if err != nil {
		return err
	}

	writer := kce.syncEventsWriter
	if syncRequest.IsFirstSync {
		writer = kce.firstSyncEventsWriter
	}

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(syncRequest.OrganisationID),
		Value: messageBytes,
	})
}

// StepRunner is the part of Driver the processor needs.
type StepRunner interface {
	Step(ctx context.Context, syncRequest domain.SyncRequest) (StepResult, error)
}

// Processor runs one sync request to a decision: step succeeded and the
// continuation was emitted, the chain finished, the chain was dropped, or
// retries ran out.  Retriable failures are retried in place so the
// organisation's partition keeps its ordering.
type Processor struct {
	driver            StepRunner
	emitter           ContinuationEmitter
	maxRetries        int
	retryBackoff      time.Duration
	maxRateLimitDelay time.Duration
	sleep             func(ctx context.Context, delay time.Duration) error
}

func NewProcessor(cfg *config.Config, driver StepRunner, emitter ContinuationEmitter) *Processor {
	return &Processor{
		driver:            driver,
		emitter:           emitter,
		maxRetries:        cfg.SyncMaxRetries,
		retryBackoff:      cfg.SyncRetryBackoff,
		maxRateLimitDelay: cfg.SyncMaxRateLimitDelay,
		sleep:             sleepWithContext,
	}
}

// Process returns nil when the request is settled, including the cases where
// the chain is deliberately dropped.  An error is only returned when retries
// were exhausted or the context ended; the caller decides what to do with
// the message then.
func (p *Processor) Process(ctx context.Context, syncRequest domain.SyncRequest) error {

	log := logger.Log.WithFields(logrus.Fields{
		"organisation_id": syncRequest.OrganisationID,
		"vendor":          syncRequest.Vendor,
		"phase":           syncRequest.Phase,
	})

	for attempt := 0; ; attempt++ {

		err := p.runStep(ctx, syncRequest)
		if err == nil {
			return nil
		}

		if errors.Is(err, ErrOrganisationGone) || errors.Is(err, ErrSyncChainSuperseded) {
			return nil
		}

		var apiError *VendorAPIError
		if errors.As(err, &apiError) && !apiError.IsRetriable() {
			logger.LogWithError(log, "Sync step failed terminally.  Dropping the chain.", err)
			return nil
		}

		if attempt >= p.maxRetries {
			logger.LogWithError(log, "Sync step failed and retries are exhausted", err)
			return err
		}

		delay := p.retryBackoff
		if apiError != nil && apiError.Kind == ErrorKindRateLimited {
			delay = apiError.RetryAfter
			if delay <= 0 {
				delay = defaultRetryAfter
			}
			if delay > p.maxRateLimitDelay {
				delay = p.maxRateLimitDelay
			}
			metrics.rateLimitDelaySeconds.Observe(delay.Seconds())
		}

		log.WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Warn("Sync step failed.  Retrying.")

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Processor) runStep(ctx context.Context, syncRequest domain.SyncRequest) error {

	result, err := p.driver.Step(ctx, syncRequest)
	if err != nil {
		return err
	}

	if result.State == SyncOngoing && result.Next != nil {
		return p.emitter.Emit(ctx, *result.Next)
	}

	return nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
