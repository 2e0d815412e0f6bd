package trace

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	applog "kakeibo/internal/log"
)

// ContextKey type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"
)

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Middleware handles request tracing and logging
type Middleware struct {
	extractIP func(*http.Request) string
	logger    *applog.Logger
	requests  *applog.StructuredLogger
}

// NewMiddleware creates a new trace middleware
func NewMiddleware(logger *applog.Logger, extractIP func(*http.Request) string) *Middleware {
	return &Middleware{
		extractIP: extractIP,
		logger:    logger,
		requests:  applog.NewStructuredLogger(logger),
	}
}

// Middleware returns HTTP middleware for request tracing. It stores the
// request ID and a request-scoped logger in the context.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := ""
		if m.extractIP != nil {
			clientIP = m.extractIP(r)
		}

		// Honour an upstream ID when it is well formed
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = GenerateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = applog.NewContext(ctx, m.logger.With(applog.FieldRequestID, requestID))
		r = r.WithContext(ctx)

		m.requests.LogHTTPStart(ctx, r, requestID, clientIP)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.requests.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), requestID, clientIP)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GenerateRequestID creates a unique request ID for tracing
func GenerateRequestID() string {
	return uuid.NewString()
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
