// Package telegram talks to the session gateway: a sidecar that owns the MTProto
// connection and the session files for every account.
package telegram

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"tgtriage/internal/constants"
	apperrors "tgtriage/internal/errors"
	"tgtriage/pkg/circuitbreaker"
	"tgtriage/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// ClientConfig holds everything a session needs to reach the gateway
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	APIID           int
	APIHash         string
	SessionDir      string
	Proxy           *types.ProxySettings
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client is the gateway-backed Provider
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *logrus.Logger
}

var _ types.Provider = (*Client)(nil)

// NewClient creates a gateway client. httpClient may be nil.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		// per-call deadlines come from the request context
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Duration(constants.DefaultGatewayTimeoutSec) * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = constants.DefaultCircuitBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Duration(constants.DefaultCircuitBreakerTimeoutSec) * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

// Open builds a handle for sessionName without contacting the gateway
func (c *Client) Open(account, sessionName string) (types.Session, error) {
	if sessionName == "" || strings.ContainsAny(sessionName, "/\\") {
		return nil, apperrors.NewValidationError("session", sessionName, "session name must be non-empty and contain no path separators")
	}

	breaker := circuitbreaker.NewWithLogger(
		fmt.Sprintf("telegram:%s", sessionName),
		c.cfg.BreakerFailures,
		c.cfg.BreakerTimeout,
		c.logger,
	).WithFailurePredicate(countsAgainstBreaker)

	return &session{
		client:  c,
		account: account,
		name:    sessionName,
		breaker: breaker,
	}, nil
}

// countsAgainstBreaker trips the circuit only on gateway-side trouble.
// Auth challenges, unknown peers and bad input are healthy responses.
func countsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.HasCode(err, apperrors.ErrCodeTimeout) {
		return true
	}
	if apperrors.HasCode(err, apperrors.ErrCodeTelegramAPI) {
		return apperrors.IsRetryable(err)
	}
	return false
}
