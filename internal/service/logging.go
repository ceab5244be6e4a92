package service

import (
	"context"
	"strings"

	"tgtriage/internal/privacy"
	"tgtriage/internal/tracing"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey marks a context whose logs may include message content
const VerboseContextKey ContextKey = "verbose"

// WithVerbose returns a context carrying the verbose flag
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// SanitizeContent completely hides message content for privacy
func SanitizeContent(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	return "[hidden]"
}

// LogWithContext returns an entry carrying the request correlation ids found in ctx
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{}
	if id := tracing.GetRequestID(ctx); id != "" {
		fields[LogFieldRequestID] = id
	}
	if id := tracing.GetTraceID(ctx); id != "" {
		fields[LogFieldTraceID] = id
	}
	return logger.WithFields(fields)
}

// LogInboundMessage logs a routed message. Content and raw ids only appear in verbose mode.
func LogInboundMessage(ctx context.Context, logger *logrus.Logger, account string, chatID, messageID int64, outcome, text string) {
	entry := LogWithContext(ctx, logger).WithFields(logrus.Fields{
		LogFieldComponent: "router",
		LogFieldMessageID: messageID,
		LogFieldEvent:     outcome,
	})

	if IsVerboseLogging(ctx) {
		entry.WithFields(logrus.Fields{
			LogFieldAccount: account,
			LogFieldChatID:  chatID,
			"text":          text,
		}).Debug("Inbound message routed")
		return
	}

	entry.WithFields(logrus.Fields{
		LogFieldAccount: privacy.MaskAccount(account),
		LogFieldChatID:  privacy.MaskChatID(chatID),
		"text":          SanitizeContent(text),
	}).Debug("Inbound message routed")
}
