// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for the JSON envelope every API
// handler answers with: {"success": bool, "data"?: any, "message"?: string}.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Envelope messages returned to clients.
const (
	MsgAllFieldsRequired = "all fields required"
	MsgInvalidFields     = "invalid fields"
	MsgInvalidBody       = "invalid request body"
	MsgExpenseAdded      = "expense added"
	MsgDeleted           = "deleted"
	MsgNotFound          = "not found"
	MsgRetrievalFailed   = "retrieval failed"
	MsgCreateFailed      = "create failed"
	MsgDeleteFailed      = "delete failed"
	MsgServiceBusy       = "service busy"
	MsgRateLimited       = "rate limit exceeded"
	MsgOperational       = "operational"
	MsgReady             = "ready"
	MsgUnavailable       = "database unavailable"
	MsgMethodNotAllowed  = "method not allowed"
	MsgInternalError     = "internal server error"
)

// timestampLayout is RFC 3339 in UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// envelope is the uniform response body.
type envelope struct {
	Success   bool     `json:"success"`
	Data      any      `json:"data,omitempty"`
	Message   string   `json:"message,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// JSONResponseBuilder provides a fluent API for building envelope responses.
type JSONResponseBuilder struct {
	body       envelope
	statusCode int
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Success starts a successful (200) response.
func Success() *JSONResponseBuilder {
	b := NewJSONResponse()
	b.body.Success = true
	return b
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Data sets the payload.
func (b *JSONResponseBuilder) Data(data any) *JSONResponseBuilder {
	b.body.Data = data
	return b
}

// Message sets the human-readable message.
func (b *JSONResponseBuilder) Message(msg string) *JSONResponseBuilder {
	b.body.Message = msg
	return b
}

// Errors attaches per-field validation problems.
func (b *JSONResponseBuilder) Errors(errs []string) *JSONResponseBuilder {
	b.body.Errors = errs
	return b
}

// Timestamp stamps the response with t in UTC.
func (b *JSONResponseBuilder) Timestamp(t time.Time) *JSONResponseBuilder {
	b.body.Timestamp = t.UTC().Format(timestampLayout)
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	payload, err := json.Marshal(b.body)
	if err != nil {
		slog.Error("Failed to encode response envelope", "error", err, "status", b.statusCode)
		payload = []byte(`{"success":false,"message":"` + MsgInternalError + `"}`)
		b.statusCode = http.StatusInternalServerError
	}

	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))

	w.WriteHeader(b.statusCode)
	_, _ = w.Write(payload)
}

// ErrorResponse creates a failed envelope with the given status and message.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Message(message)
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, MsgNotFound)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// ServiceBusyError creates the 503 answer for a saturated connection pool.
func ServiceBusyError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusServiceUnavailable, MsgServiceBusy).
		Header("Retry-After", "1")
}

// TooManyRequestsError creates a 429 Too Many Requests error response.
func TooManyRequestsError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusTooManyRequests, MsgRateLimited)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusMethodNotAllowed, MsgMethodNotAllowed).
		Header("Allow", allowedMethods)
}
