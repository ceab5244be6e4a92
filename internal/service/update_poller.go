package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tgtriage/internal/constants"
	apperrors "tgtriage/internal/errors"
	"tgtriage/internal/models"
	"tgtriage/internal/privacy"
	"tgtriage/internal/retry"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// UpdatePoller long-polls the gateway for every session the registry hands
// it and feeds each inbound message to the router
type UpdatePoller struct {
	registry   *Registry
	router     *Router
	timeoutSec int
	enabled    bool
	backoff    *retry.Backoff
	logger     *logrus.Logger
	errLog     *apperrors.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	hooked  bool
	watched map[string]bool
}

func NewUpdatePoller(registry *Registry, router *Router, gateway models.GatewayConfig, retryConfig models.RetryConfig, logger *logrus.Logger) *UpdatePoller {
	timeout := gateway.UpdatesTimeoutSec
	if timeout <= 0 {
		timeout = constants.DefaultUpdatesTimeoutSec
	}
	initial := time.Duration(retryConfig.InitialBackoffMs) * time.Millisecond
	if initial <= 0 {
		initial = time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond
	}

	return &UpdatePoller{
		registry:   registry,
		router:     router,
		timeoutSec: timeout,
		enabled:    gateway.PollingEnabled,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: initial,
			MaxDelay:     time.Duration(constants.DefaultPollerMaxErrorBackoffSec) * time.Second,
			Multiplier:   2,
			// attempts are counted by the poll loop, not by Retry
			MaxAttempts: 1,
			Jitter:      true,
		}),
		logger:  logger,
		errLog:  apperrors.FromLogrus(logger),
		watched: make(map[string]bool),
	}
}

// Start begins polling every session already in the registry and every one
// created afterwards
func (p *UpdatePoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("update poller is already running")
	}
	if !p.enabled {
		p.mu.Unlock()
		p.logger.Info("Update polling is disabled in configuration")
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.watched = make(map[string]bool)
	hook := !p.hooked
	p.hooked = true
	p.mu.Unlock()

	if hook {
		p.registry.OnCreate(p.Watch)
	}
	for _, sess := range p.registry.Sessions() {
		p.Watch(sess)
	}

	p.logger.WithField("timeout_sec", p.timeoutSec).Info("Update poller started")
	return nil
}

// Watch starts a poll loop for sess unless one is already running
func (p *UpdatePoller) Watch(sess types.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running || p.watched[sess.Account()] {
		return
	}
	p.watched[sess.Account()] = true

	p.wg.Add(1)
	go p.pollLoop(p.ctx, sess)
}

// Stop cancels every poll loop and waits for them to exit
func (p *UpdatePoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.logger.Info("Stopping update poller...")
	p.wg.Wait()
	p.logger.Info("Update poller stopped")
}

// IsRunning returns whether the poller is currently active
func (p *UpdatePoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *UpdatePoller) pollLoop(ctx context.Context, sess types.Session) {
	defer p.wg.Done()

	account := sess.Account()
	fields := logrus.Fields{
		LogFieldComponent: "update_poller",
		LogFieldAccount:   privacy.MaskAccount(account),
	}

	var offset int64
	failures := 0

	for ctx.Err() == nil {
		p.registry.EnsureConnected(ctx, sess)

		updates, err := sess.GetUpdates(ctx, offset, p.timeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := p.backoff.Delay(failures)
			attempt := logrus.Fields{
				LogFieldAttempt: failures,
				"backoff":       delay.String(),
			}
			if apperrors.HasCode(err, apperrors.ErrCodeNotAuthorized) {
				p.logger.WithFields(fields).WithFields(attempt).WithError(err).
					Debug("Session not signed in yet, retrying update poll")
			} else {
				p.errLog.LogRetryableError(err, "Retrying update poll", fields, attempt)
			}
			if retry.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		failures = 0

		for i := range updates {
			u := &updates[i]
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message != nil {
				p.router.OnInbound(ctx, account, u.Message)
			}
		}
	}
}
