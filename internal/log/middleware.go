package log

import (
	"context"
	"log/slog"
	"net/http"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the request context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	// Return default logger if not found
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// StructuredLogger provides structured logging methods with context awareness
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
	}
}

// LogHTTPStart logs the start of an HTTP request
func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, requestID, clientIP string) {
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"), r.Header.Get("Referer")).
		WithRequestID(requestID).
		WithClientIP(clientIP)

	sl.logger.WithComponent(ComponentHTTP).DebugContext(ctx, "HTTP request started", fields.ToSlice()...)
}

// LogHTTPEnd logs the completion of an HTTP request
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, requestID, clientIP string) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", "").
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithRequestID(requestID).
		WithClientIP(clientIP)

	sl.logger.WithComponent(ComponentHTTP).Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogExpenseCreated logs successful expense creation
func (sl *StructuredLogger) LogExpenseCreated(ctx context.Context, id int64, date, category, product, store string, amount int64) {
	fields := NewFields().
		WithExpense(id, date, category, product, store, amount).
		WithOperation(OpCreate)

	sl.logger.WithComponent(ComponentExpense).InfoContext(ctx, "Expense created", fields.ToSlice()...)
}

// LogExpenseDeleted logs successful expense deletion
func (sl *StructuredLogger) LogExpenseDeleted(ctx context.Context, id int64) {
	sl.logger.WithComponent(ComponentExpense).InfoContext(ctx, "Expense deleted",
		FieldExpenseID, id,
		FieldOperation, OpDelete)
}

// LogError logs an error with structured context
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component string, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	allFields := fields.
		WithError(err).
		WithOperation(operation)

	sl.logger.WithComponent(component).ErrorContext(ctx, msg, allFields.ToSlice()...)
}
