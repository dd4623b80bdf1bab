package service

import (
	"context"
	"time"

	"beam/internal/constants"

	"github.com/sirupsen/logrus"
)

// Purger removes pending items past their retention
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// ExpirySweeper is implemented by backends that keep expired rows on disk
// until they are swept (sqlite, postgres)
type ExpirySweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type Scheduler struct {
	purger        Purger
	sweeper       ExpirySweeper
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

// NewScheduler creates a purge scheduler. sweeper may be nil.
func NewScheduler(purger Purger, sweeper ExpirySweeper, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultPurgeIntervalHours
	}
	return &Scheduler{
		purger:        purger,
		sweeper:       sweeper,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.WithField("intervalHours", s.intervalHours).Info("Starting purge scheduler")

	s.runPurge(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runPurge(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runPurge(ctx context.Context) {
	entry := s.logger.WithField(LogFieldEvent, EventInboxPurged)

	purged, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		entry.WithError(err).WithField(LogFieldCount, purged).Error("Failed to purge expired items")
		return
	}

	var swept int64
	if s.sweeper != nil {
		if swept, err = s.sweeper.DeleteExpired(ctx); err != nil {
			entry.WithError(err).Error("Failed to sweep expired rows")
			return
		}
	}

	entry.WithFields(logrus.Fields{
		LogFieldCount: purged,
		"swept":       swept,
	}).Info("Purge completed")
}
