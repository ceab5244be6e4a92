package service

import (
	"context"
	"sync"
	"time"

	"tgtriage/internal/constants"

	"github.com/sirupsen/logrus"
)

// LoginPurger deletes sign-in challenges older than a cutoff
type LoginPurger interface {
	PurgePendingLoginsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs housekeeping: expired sign-in challenges are purged and,
// when configured, every known account is reconciled periodically
type Scheduler struct {
	logins            LoginPurger
	reconciler        *Reconciler
	registry          *Registry
	loginTTL          time.Duration
	cleanupInterval   time.Duration
	reconcileInterval time.Duration
	logger            *logrus.Logger
	now               func() time.Time
	stopCh            chan struct{}
	stopOnce          sync.Once
}

func NewScheduler(logins LoginPurger, reconciler *Reconciler, registry *Registry, loginTTLHours, cleanupIntervalHours, reconcileIntervalSec int, logger *logrus.Logger) *Scheduler {
	if loginTTLHours <= 0 {
		loginTTLHours = constants.DefaultLoginTTLHours
	}
	if cleanupIntervalHours <= 0 {
		cleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}
	return &Scheduler{
		logins:            logins,
		reconciler:        reconciler,
		registry:          registry,
		loginTTL:          time.Duration(loginTTLHours) * time.Hour,
		cleanupInterval:   time.Duration(cleanupIntervalHours) * time.Hour,
		reconcileInterval: time.Duration(reconcileIntervalSec) * time.Second,
		logger:            logger,
		now:               time.Now,
		stopCh:            make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	// a nil channel never fires, which disables periodic reconciliation
	var reconcileC <-chan time.Time
	if s.reconcileInterval > 0 {
		reconcile := time.NewTicker(s.reconcileInterval)
		defer reconcile.Stop()
		reconcileC = reconcile.C
	}

	s.logger.WithFields(logrus.Fields{
		"cleanup_interval":   s.cleanupInterval.String(),
		"reconcile_interval": s.reconcileInterval.String(),
	}).Info("Starting housekeeping scheduler")

	s.runCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-cleanup.C:
			s.runCleanup(ctx)
		case <-reconcileC:
			s.runReconcile(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	cutoff := s.now().Add(-s.loginTTL)
	deleted, err := s.logins.PurgePendingLoginsOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to purge expired sign-in challenges")
		return
	}
	s.logger.WithField(LogFieldCount, deleted).Info("Expired sign-in challenges purged")
}

func (s *Scheduler) runReconcile(ctx context.Context) {
	for account := range s.registry.Sessions() {
		if ctx.Err() != nil {
			return
		}
		s.reconciler.ReconcileBestEffort(ctx, account)
	}
}
