package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tgtriage/internal/constants"
	"tgtriage/internal/models"
	"tgtriage/internal/security"
	"tgtriage/internal/tracing"
	"tgtriage/internal/validation"

	"github.com/joho/godotenv"
)

var (
	ErrMissingAPIID      = models.ConfigError{Message: "missing telegram api_id (set API_ID)"}
	ErrMissingAPIHash    = models.ConfigError{Message: "missing telegram api_hash (set API_HASH)"}
	ErrMissingGatewayURL = models.ConfigError{Message: "missing session gateway URL (set TG_GATEWAY_URL)"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads the JSON config file, loads .env, applies environment
// overrides and validates the result. A missing config file is not an error:
// the process can be configured from the environment alone.
func LoadConfig(path string) (*models.Config, error) {
	var config models.Config

	if path != "" {
		if err := security.ValidateFilePath(path); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := json.Unmarshal(file, &config); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadDotEnv loads KEY=VALUE pairs without overriding variables already set
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.LoginTTLHours <= 0 {
		c.Server.LoginTTLHours = constants.DefaultLoginTTLHours
	}
	if c.Server.CleanupIntervalHr <= 0 {
		c.Server.CleanupIntervalHr = constants.DefaultCleanupIntervalHours
	}

	if c.Telegram.DefaultSession == "" {
		c.Telegram.DefaultSession = constants.DefaultSessionName
	}
	if c.Telegram.SessionDir == "" {
		c.Telegram.SessionDir = constants.DefaultSessionDir
	}
	if c.Telegram.Proxy.Enabled() && c.Telegram.Proxy.Scheme == "" {
		c.Telegram.Proxy.Scheme = constants.DefaultProxyScheme
	}

	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}
	if c.Gateway.UpdatesTimeoutSec <= 0 {
		c.Gateway.UpdatesTimeoutSec = constants.DefaultUpdatesTimeoutSec
	}
	if c.Gateway.CircuitBreakerFailures <= 0 {
		c.Gateway.CircuitBreakerFailures = constants.DefaultCircuitBreakerFailures
	}
	if c.Gateway.CircuitBreakerTimeout <= 0 {
		c.Gateway.CircuitBreakerTimeout = constants.DefaultCircuitBreakerTimeoutSec
	}

	if c.Hub.SubscriberBuffer <= 0 {
		c.Hub.SubscriberBuffer = constants.DefaultSubscriberBufferSize
	}
	if c.Hub.WriteTimeoutMs <= 0 {
		c.Hub.WriteTimeoutMs = constants.DefaultSubscriberWriteTimeoutMs
	}

	if c.Queue.ReconcileDialogLimit <= 0 {
		c.Queue.ReconcileDialogLimit = constants.DefaultReconcileDialogLimit
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	tracingDefaults := tracing.DefaultTracingConfig()
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = tracingDefaults.ServiceName
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = tracingDefaults.ServiceVersion
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = tracingDefaults.Environment
	}
	if c.Tracing.ShutdownTimeoutSec <= 0 {
		c.Tracing.ShutdownTimeoutSec = tracingDefaults.ShutdownTimeoutSec
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Telegram.APIID <= 0 {
		return ErrMissingAPIID
	}
	if c.Telegram.APIHash == "" {
		return ErrMissingAPIHash
	}
	if c.Gateway.BaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port %d", c.Server.Port)}
	}
	for _, t := range []struct {
		sec   int
		field string
	}{
		{c.Server.ReadTimeoutSec, "server read_timeout_sec"},
		{c.Server.WriteTimeoutSec, "server write_timeout_sec"},
		{c.Gateway.TimeoutSec, "gateway timeout_sec"},
		{c.Gateway.UpdatesTimeoutSec, "gateway updates_timeout_sec"},
	} {
		if err := validation.ValidateTimeout(t.sec, t.field); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if c.Queue.ReconcileIntervalSec < 0 {
		return models.ConfigError{Message: "queue reconcile_interval_sec cannot be negative"}
	}
	if p := c.Telegram.Proxy; p.Host != "" && (p.Port <= 0 || p.Port > 65535) {
		return models.ConfigError{Message: fmt.Sprintf("invalid proxy port %d", p.Port)}
	}
	return c.Tracing.Validate()
}

func applyEnvironmentOverrides(c *models.Config) error {
	if v := os.Getenv("API_ID"); v != "" {
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("API_ID must be an integer, got %q", v)}
		}
		c.Telegram.APIID = id
	}
	if v := os.Getenv("API_HASH"); v != "" {
		c.Telegram.APIHash = v
	}
	if v := os.Getenv("LOGIN"); v != "" {
		c.Telegram.DefaultSession = v
	}
	if v := os.Getenv("SESSION_DIR"); v != "" {
		c.Telegram.SessionDir = v
	}

	if v := os.Getenv("PROXY_HOST"); v != "" {
		c.Telegram.Proxy.Host = v
	}
	if v := os.Getenv("PROXY_PORT"); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("PROXY_PORT must be an integer, got %q", v)}
		}
		c.Telegram.Proxy.Port = port
	}
	if v := os.Getenv("PROXY_SCHEME"); v != "" {
		c.Telegram.Proxy.Scheme = v
	}
	if v := os.Getenv("PROXY_USERNAME"); v != "" {
		c.Telegram.Proxy.Username = v
	}
	if v := os.Getenv("PROXY_PASSWORD"); v != "" {
		c.Telegram.Proxy.Password = v
	}

	if v := os.Getenv("TG_GATEWAY_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	// SECURITY: secrets should be set via environment variables
	if v := os.Getenv("TG_GATEWAY_API_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("TGTRIAGE_WEBHOOK_SECRET"); v != "" {
		c.Server.WebhookSecret = v
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FRONTEND_DIR"); v != "" {
		c.Server.FrontendDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return models.ConfigError{Message: fmt.Sprintf("PORT must be an integer, got %q", v)}
		}
		c.Server.Port = port
	}
	return nil
}

// IsProduction reports whether TGTRIAGE_ENV selects production mode
func IsProduction() bool {
	return os.Getenv("TGTRIAGE_ENV") == "production"
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if IsProduction() {
		if c.Server.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set TGTRIAGE_WEBHOOK_SECRET environment variable)"}
		}
		if len(c.Server.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Server.WebhookSecret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set TGTRIAGE_WEBHOOK_SECRET environment variable to verify /webhook/telegram deliveries.\n")
	}

	return nil
}
