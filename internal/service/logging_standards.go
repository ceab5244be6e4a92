package service

// Logging standards for tgtriage.
//
// Every component logs through logrus with the field names below so that
// log queries work the same for the HTTP layer, the router and the pollers.

// Standard Field Names
const (
	// Request correlation
	LogFieldRequestID = "request_id"
	LogFieldTraceID   = "trace_id"

	// Core identifiers
	LogFieldAccount   = "account"
	LogFieldSession   = "session"
	LogFieldMessageID = "message_id"
	LogFieldChatID    = "chat_id"
	LogFieldUserID    = "user_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"
	LogFieldAction    = "action"

	// Event fields
	LogFieldEvent       = "event"
	LogFieldSubscriber  = "subscriber_id"
	LogFieldSubscribers = "subscribers"
	LogFieldQueueLength = "queue_length"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldEndpoint   = "endpoint"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
)

// Log Level Usage
//
// DEBUG: raw gateway payload sizes, per-update routing decisions.
// INFO: startup/shutdown, sessions opened, queue actions applied.
// WARN: best-effort failures that are swallowed (connect, read_chat_history,
// reconcile), pruned subscribers, retryable gateway errors.
// ERROR: failed operations surfaced to the client as 5xx.
// FATAL: configuration or database unavailable at startup.

// Message patterns
//
// "Starting [operation]" / "[Operation] completed" / "Failed to [operation]"
// "Retrying [operation]" / "Skipping [operation]: [reason]"
