package models

import "fmt"

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Telegram TelegramConfig `json:"telegram"`
	Gateway  GatewayConfig  `json:"gateway"`
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Hub      HubConfig      `json:"hub"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int      `json:"port"`
	ReadTimeoutSec    int      `json:"read_timeout_sec"`
	WriteTimeoutSec   int      `json:"write_timeout_sec"`
	IdleTimeoutSec    int      `json:"idle_timeout_sec"`
	FrontendDir       string   `json:"frontend_dir"`
	AllowedOrigins    []string `json:"allowed_origins"`
	WebhookSecret     string   `json:"webhook_secret"`
	LoginTTLHours     int      `json:"login_ttl_hours"`
	CleanupIntervalHr int      `json:"cleanup_interval_hours"`
}

// TelegramConfig holds the application credentials and session layout
type TelegramConfig struct {
	APIID          int         `json:"api_id"`
	APIHash        string      `json:"api_hash"`
	DefaultSession string      `json:"default_session"`
	SessionDir     string      `json:"session_dir"`
	Proxy          ProxyConfig `json:"proxy"`
}

// ProxyConfig is passed through to the gateway on connect
type ProxyConfig struct {
	Scheme   string `json:"scheme"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Enabled reports whether a proxy host and port are configured
func (p ProxyConfig) Enabled() bool {
	return p.Host != "" && p.Port > 0
}

// GatewayConfig holds the session gateway connection settings
type GatewayConfig struct {
	BaseURL                string `json:"base_url"`
	APIKey                 string `json:"api_key"`
	TimeoutSec             int    `json:"timeout_sec"`
	UpdatesTimeoutSec      int    `json:"updates_timeout_sec"`
	PollingEnabled         bool   `json:"polling_enabled"`
	CircuitBreakerFailures int    `json:"circuit_breaker_failures"`
	CircuitBreakerTimeout  int    `json:"circuit_breaker_timeout_sec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig controls background reconciliation
type QueueConfig struct {
	ReconcileIntervalSec int `json:"reconcile_interval_sec"`
	// ReconcileDialogLimit bounds the dialog listing a reconciliation walks
	ReconcileDialogLimit int `json:"reconcile_dialog_limit"`
}

// HubConfig controls live subscriber delivery
type HubConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer"`
	WriteTimeoutMs   int `json:"write_timeout_ms"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	ServiceName        string  `json:"service_name"`
	ServiceVersion     string  `json:"service_version"`
	Environment        string  `json:"environment"`
	OTLPEndpoint       string  `json:"otlp_endpoint"`
	SampleRate         float64 `json:"sample_rate"`
	Enabled            bool    `json:"enabled"`
	UseStdout          bool    `json:"use_stdout"`
	ShutdownTimeoutSec int     `json:"shutdown_timeout_sec"`
}

// Validate checks an enabled tracing configuration
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return ConfigError{Message: "tracing service_name is required"}
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ConfigError{Message: fmt.Sprintf("tracing sample_rate must be between 0 and 1, got %v", c.SampleRate)}
	}
	if !c.UseStdout && c.OTLPEndpoint == "" {
		return ConfigError{Message: "tracing otlp_endpoint is required when use_stdout is false"}
	}
	return nil
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
