package service

import (
	"context"

	"tgtriage/internal/privacy"
	"tgtriage/internal/queue"

	"github.com/sirupsen/logrus"
)

// ActionResult is the queue state after an operator action
type ActionResult struct {
	NextChatID *int64
	Queue      []int64
}

// Dispatcher applies operator actions to the queue store
type Dispatcher struct {
	registry *Registry
	queues   *queue.Store
	logger   *logrus.Logger
}

func NewDispatcher(registry *Registry, queues *queue.Store, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, queues: queues, logger: logger}
}

// ApplyAction marks the chat read on done (best effort) and then updates the queue.
// Postpone and task both move the chat to the tail.
func (d *Dispatcher) ApplyAction(ctx context.Context, account string, chatID int64, action queue.Action) ActionResult {
	if action == queue.ActionDone {
		d.markRead(ctx, account, chatID)
	}

	head, order := d.queues.Apply(account, chatID, action)

	LogWithContext(ctx, d.logger).WithFields(logrus.Fields{
		LogFieldAccount:     privacy.MaskAccount(account),
		LogFieldChatID:      privacy.MaskChatID(chatID),
		LogFieldAction:      string(action),
		LogFieldQueueLength: len(order),
	}).Info("Queue action applied")

	return ActionResult{NextChatID: head, Queue: order}
}

func (d *Dispatcher) markRead(ctx context.Context, account string, chatID int64) {
	sess, err := d.registry.Acquire(ctx, account)
	if err == nil {
		err = sess.ReadHistory(ctx, chatID)
	}
	if err != nil {
		LogWithContext(ctx, d.logger).WithError(err).WithFields(logrus.Fields{
			LogFieldAccount:   privacy.MaskAccount(account),
			LogFieldChatID:    privacy.MaskChatID(chatID),
			LogFieldOperation: "read_history",
		}).Warn("Failed to mark chat read, dequeuing anyway")
	}
}
