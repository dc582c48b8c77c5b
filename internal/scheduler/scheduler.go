package scheduler

import (
	"context"
	"time"

	"github.com/identity-sync/saas-connector/internal/connector"
	"github.com/identity-sync/saas-connector/internal/domain"
	"github.com/identity-sync/saas-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// OrganisationWalker enumerates every registered organisation, invoking the
// callback once per row.
type OrganisationWalker func(ctx context.Context, processOrganisation func(ctx context.Context, org domain.Organisation)) error

// Scheduler kicks off one steady-state sync chain per organisation on a
// fixed interval.  Each chain starts with a nil cursor and a fresh
// watermark.
type Scheduler struct {
	interval          time.Duration
	walkOrganisations OrganisationWalker
	emitter           connector.ContinuationEmitter
}

func NewScheduler(interval time.Duration, walkOrganisations OrganisationWalker, emitter connector.ContinuationEmitter) *Scheduler {
	return &Scheduler{
		interval:          interval,
		walkOrganisations: walkOrganisations,
		emitter:           emitter,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {

	logger.Log.WithFields(logrus.Fields{"interval": s.interval}).Info("Starting the sync scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Stopping the sync scheduler")
			return ctx.Err()
		case <-ticker.C:
			s.scheduleSyncs(ctx)
		}
	}
}

// ScheduleSyncsNow runs one scheduling pass immediately.
func (s *Scheduler) ScheduleSyncsNow(ctx context.Context) {
	s.scheduleSyncs(ctx)
}

func (s *Scheduler) scheduleSyncs(ctx context.Context) {

	scheduledCount := 0

	err := s.walkOrganisations(ctx, func(ctx context.Context, org domain.Organisation) {
		syncRequest := domain.SyncRequest{
			OrganisationID: org.ID,
			InstallID:      org.InstallID,
			Vendor:         org.Vendor,
			IsFirstSync:    false,
			SyncStartedAt:  time.Now().UTC().UnixMilli(),
		}

		if err := s.emitter.Emit(ctx, syncRequest); err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err, "organisation_id": org.ID}).Error("Unable to schedule a sync")
			return
		}

		scheduledCount++
	})

	if err != nil {
		logger.LogError("Organisation walk failed during scheduling", err)
		return
	}

	logger.Log.WithFields(logrus.Fields{"scheduled_count": scheduledCount}).Info("Scheduled steady-state syncs")
}
