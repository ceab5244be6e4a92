package service

import (
	"context"
	"sync"

	"tgtriage/internal/constants"
	"tgtriage/internal/metrics"
	"tgtriage/internal/privacy"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// SessionHook runs once for every newly created session, outside the creation lock
type SessionHook func(sess types.Session)

// Registry lazily creates and caches one session handle per account key.
// The empty key is the default account.
type Registry struct {
	provider       types.Provider
	defaultSession string
	logger         *logrus.Logger

	mu       sync.Mutex
	sessions map[string]types.Session
	hooks    []SessionHook
}

func NewRegistry(provider types.Provider, defaultSession string, logger *logrus.Logger) *Registry {
	if defaultSession == "" {
		defaultSession = constants.DefaultSessionName
	}
	return &Registry{
		provider:       provider,
		defaultSession: defaultSession,
		logger:         logger,
		sessions:       make(map[string]types.Session),
	}
}

// OnCreate registers a hook for sessions created after this call
func (r *Registry) OnCreate(hook SessionHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// SessionName maps an account key to its credentials namespace
func (r *Registry) SessionName(account string) string {
	if account == "" {
		return r.defaultSession
	}
	return account
}

// GetOrCreate returns the cached handle for account, creating it on first use.
// Concurrent callers for the same key always get the same handle.
func (r *Registry) GetOrCreate(account string) (types.Session, error) {
	r.mu.Lock()
	if sess, ok := r.sessions[account]; ok {
		r.mu.Unlock()
		return sess, nil
	}

	sess, err := r.provider.Open(account, r.SessionName(account))
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.sessions[account] = sess
	count := len(r.sessions)
	hooks := append([]SessionHook(nil), r.hooks...)
	r.mu.Unlock()

	metrics.SetGauge(metrics.SessionsOpen, float64(count), nil, "Session handles held by the registry")
	r.logger.WithFields(logrus.Fields{
		LogFieldAccount: privacy.MaskAccount(account),
		LogFieldSession: privacy.MaskSessionName(sess.Name()),
	}).Info("Session handle created")

	for _, hook := range hooks {
		hook(sess)
	}
	return sess, nil
}

// EnsureConnected reconnects a disconnected handle. Failures are logged and
// left for the next gateway call to surface.
func (r *Registry) EnsureConnected(ctx context.Context, sess types.Session) {
	if sess.IsConnected() {
		return
	}
	if err := sess.Connect(ctx); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldAccount:   privacy.MaskAccount(sess.Account()),
			LogFieldOperation: "connect",
		}).Warn("Session reconnect failed")
	}
}

// Acquire is GetOrCreate followed by EnsureConnected
func (r *Registry) Acquire(ctx context.Context, account string) (types.Session, error) {
	sess, err := r.GetOrCreate(account)
	if err != nil {
		return nil, err
	}
	r.EnsureConnected(ctx, sess)
	return sess, nil
}

// Sessions returns the handles created so far, keyed by account
func (r *Registry) Sessions() map[string]types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.Session, len(r.sessions))
	for k, v := range r.sessions {
		out[k] = v
	}
	return out
}

// CloseAll closes every handle, ignoring errors, and empties the cache
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]types.Session)
	r.mu.Unlock()

	for account, sess := range sessions {
		if err := sess.Close(ctx); err != nil {
			r.logger.WithError(err).WithField(LogFieldAccount, privacy.MaskAccount(account)).
				Debug("Ignoring session close error")
		}
	}
	metrics.SetGauge(metrics.SessionsOpen, 0, nil, "Session handles held by the registry")
	r.logger.WithField(LogFieldCount, len(sessions)).Info("Session handles closed")
}
