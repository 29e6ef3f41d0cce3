package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across Atelier.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldPluginID      = "plugin_id"
	FieldMessageID     = "message_id"
	FieldCorrelationID = "correlation_id"
	FieldSubscription  = "subscription_id"

	// Components
	FieldComponent = "component"
	FieldCategory  = "category"
	FieldVersion   = "version"

	// Operations
	FieldOperation = "operation"
	FieldAction    = "action"
	FieldSender    = "sender"
	FieldTarget    = "target"

	// Events
	FieldEventType = "event_type"
	FieldSource    = "source"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldTimeout    = "timeout"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"

	// Status
	FieldState  = "state"
	FieldStatus = "status"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"
)

// Context keys for propagating logging context
type contextKey string

const (
	pluginIDKey  contextKey = "logger_plugin_id"
	messageIDKey contextKey = "logger_message_id"
	componentKey contextKey = "logger_component"
)

// WithPluginID adds a plugin ID to the context for logging
func WithPluginID(ctx context.Context, pluginID string) context.Context {
	return context.WithValue(ctx, pluginIDKey, pluginID)
}

// WithMessageID adds a message ID to the context for logging
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey, messageID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if pluginID, ok := ctx.Value(pluginIDKey).(string); ok && pluginID != "" {
		fields = append(fields, FieldPluginID, pluginID)
	}
	if messageID, ok := ctx.Value(messageIDKey).(string); ok && messageID != "" {
		fields = append(fields, FieldMessageID, messageID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
// Use this to get a logger that automatically includes plugin_id, message_id, etc.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Loader struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewLoader() *Loader {
//	    return &Loader{
//	        logger: logger.ComponentLogger("plugin.loader"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
//
// Example:
//
//	pluginLogger := logger.ChildLogger(baseLogger, "plugin_id", meta.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
