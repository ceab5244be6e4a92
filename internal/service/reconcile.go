package service

import (
	"context"
	"time"

	"tgtriage/internal/constants"
	"tgtriage/internal/metrics"
	"tgtriage/internal/privacy"
	"tgtriage/internal/queue"

	"github.com/sirupsen/logrus"
)

// Reconciler merges chats with unread messages into an account's queue.
// It never removes or reorders entries.
type Reconciler struct {
	registry *Registry
	queues   *queue.Store
	limit    int
	logger   *logrus.Logger
}

func NewReconciler(registry *Registry, queues *queue.Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		registry: registry,
		queues:   queues,
		limit:    constants.DefaultReconcileDialogLimit,
		logger:   logger,
	}
}

// WithLimit sets how many dialogs one reconciliation lists. Call it before the
// reconciler is shared.
func (rc *Reconciler) WithLimit(limit int) *Reconciler {
	if limit > 0 {
		rc.limit = limit
	}
	return rc
}

// Reconcile enqueues every private dialog with a nonzero unread count and
// returns how many chats were newly added
func (rc *Reconciler) Reconcile(ctx context.Context, account string) (int, error) {
	start := time.Now()

	sess, err := rc.registry.Acquire(ctx, account)
	if err != nil {
		rc.recordRun("error")
		return 0, err
	}

	dialogs, err := sess.GetDialogs(ctx, rc.limit)
	if err != nil {
		rc.recordRun("error")
		return 0, err
	}

	unread := make([]int64, 0, len(dialogs))
	for _, d := range dialogs {
		if d.UnreadCount > 0 && d.Chat.IsPrivate() {
			unread = append(unread, d.Chat.ID)
		}
	}
	added := rc.queues.EnqueueAll(account, unread)
	rc.recordRun("ok")

	rc.logger.WithFields(logrus.Fields{
		LogFieldAccount:  privacy.MaskAccount(account),
		LogFieldCount:    added,
		"unread":         len(unread),
		LogFieldDuration: time.Since(start).Milliseconds(),
	}).Debug("Queue reconciliation completed")

	return added, nil
}

// ReconcileBestEffort runs Reconcile and logs instead of returning failures
func (rc *Reconciler) ReconcileBestEffort(ctx context.Context, account string) {
	if _, err := rc.Reconcile(ctx, account); err != nil {
		LogWithContext(ctx, rc.logger).WithError(err).WithFields(logrus.Fields{
			LogFieldAccount:   privacy.MaskAccount(account),
			LogFieldOperation: "reconcile",
		}).Warn("Skipping queue reconciliation: dialog listing failed")
	}
}

func (rc *Reconciler) recordRun(result string) {
	metrics.IncrementCounter(metrics.ReconcileRuns, map[string]string{"result": result}, "Queue reconciliation runs")
}
