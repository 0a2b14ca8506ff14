package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"smsrelay/pkg/source"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
)

// NewMissingConfigError names every missing variable for one provider.
func NewMissingConfigError(provider string, keys []string) *AppError {
	return New(ErrCodeMissingConfig,
		fmt.Sprintf("missing required %s configuration: %s", provider, strings.Join(keys, ", "))).
		WithContext("missing_keys", keys).
		WithUserMessage("Configuration error")
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewSourceError wraps a carrier fetch failure using its classification.
func NewSourceError(provider string, err error) *AppError {
	var appErr *AppError
	switch source.Classify(err) {
	case source.ClassAuth:
		appErr = Wrap(err, ErrCodeAuthentication, fmt.Sprintf("%s rejected credentials", provider))
	case source.ClassRateLimit:
		appErr = WrapRetryable(err, ErrCodeRateLimit, fmt.Sprintf("%s rate limit exceeded", provider))
	default:
		appErr = WrapRetryable(err, ErrCodeSourceAPI, fmt.Sprintf("%s API call failed", provider))
	}

	appErr = appErr.WithContext("provider", provider)
	var srcErr *source.Error
	if stderrors.As(err, &srcErr) && srcErr.StatusCode > 0 {
		appErr = appErr.WithContext("status_code", srcErr.StatusCode)
	}
	return appErr
}

// NewStateError reports an operation that is invalid in the poller's current state.
func NewStateError(operation, state string) *AppError {
	return New(ErrCodeInvalidState, fmt.Sprintf("cannot %s while %s", operation, state)).
		WithContext("operation", operation).
		WithContext("state", state)
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// WithRequestID stores the request id for later error and log context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithTraceID stores the trace id for later error and log context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext extracts error context from a context.Context if present
func FromContext(ctx context.Context) map[string]interface{} {
	if ctx == nil {
		return nil
	}

	errorCtx := make(map[string]interface{})
	if requestID := ctx.Value(requestIDKey); requestID != nil {
		errorCtx["request_id"] = requestID
	}
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		errorCtx["trace_id"] = traceID
	}
	return errorCtx
}

// WithContextFromRequest adds request context to an error
func WithContextFromRequest(err *AppError, ctx context.Context) *AppError {
	if err == nil || ctx == nil {
		return err
	}
	for k, v := range FromContext(ctx) {
		err = err.WithContext(k, v)
	}
	return err
}

// HTTPStatusCode maps error codes to HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeSourceAPI, ErrCodeRateLimit, ErrCodeAuthentication:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
