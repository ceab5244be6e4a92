package constants

// Server defaults
const (
	DefaultServerPort            = 8080
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 30
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	DefaultFrontendMountPath     = "/app"
)

// Session Provider defaults
const (
	DefaultGatewayTimeoutSec        = 30
	DefaultSessionName              = "primary"
	DefaultSessionDir               = "sessions"
	DefaultProxyScheme              = "socks5"
	DefaultUpdatesTimeoutSec        = 25
	DefaultCircuitBreakerFailures   = 5
	DefaultCircuitBreakerTimeoutSec = 30
	DefaultSessionCloseTimeoutSec   = 5
)

// Query defaults mirrored from the operator UI
const (
	DefaultDialogsLimit  = 100
	MaxDialogsLimit      = 500
	DefaultMessagesLimit = 50
	MaxMessagesLimit     = 200

	// reconciliation walks far past what the UI lists at once
	DefaultReconcileDialogLimit = 10000
)

// Broadcast hub defaults
const (
	DefaultSubscriberBufferSize     = 64
	DefaultSubscriberWriteTimeoutMs = 5000
	DefaultWebSocketReadLimit       = 64 * 1024
)

// Retry and housekeeping defaults
const (
	DefaultRetryBackoffMs           = 1000
	DefaultMaxBackoffMs             = 60000
	DefaultMaxAttempts              = 5
	DefaultDatabaseRetryAttempts    = 3
	DefaultLoginTTLHours            = 24
	DefaultCleanupIntervalHours     = 6
	DefaultPollerMaxErrorBackoffSec = 60
)

// Validation limits
const (
	MinPhoneNumberLength = 10
	MaxPhoneNumberLength = 20
	MaxAccountKeyLength  = 64
	MaxMessageTextLength = 4096
	MinUsernameLength    = 4
	MaxUsernameLength    = 32
	MaxWebhookBodyBytes  = 1 << 20
)

// Encryption constants for the sign-in challenge store
const (
	EncryptionSalt       = "tgtriage-pending-login-salt-v1"
	EncryptionLookupSalt = "tgtriage-pending-login-lookup-v1"
	EncryptionKeySize    = 32 // AES-256
	EncryptionNonceSize  = 12 // GCM standard nonce size
	EncryptionIterations = 100000
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
)
