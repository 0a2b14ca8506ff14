package service

import (
	"context"
	"sync"
	"time"

	"smsrelay/internal/constants"
	"smsrelay/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Scheduler prunes messages and codes past the retention window, once at
// start and then on every interval.
type Scheduler struct {
	pruner        Pruner
	metrics       *metrics.Registry
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func NewScheduler(pruner Pruner, registry *metrics.Registry, retentionDays, intervalHours int, logger *logrus.Logger) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = constants.DefaultCleanupIntervalHours
	}
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return &Scheduler{
		pruner:        pruner,
		metrics:       registry,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting cleanup scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	s.logger.WithField("retention_days", s.retentionDays).Info("Running scheduled cleanup")

	removed, err := s.pruner.PruneOlderThan(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Failed to cleanup old records")
		return
	}

	s.metrics.AddToCounter(metrics.PrunedTotal, float64(removed), nil, "Messages removed by retention cleanup")
	s.logger.WithField(LogFieldCount, removed).Info("Successfully completed cleanup")
}
