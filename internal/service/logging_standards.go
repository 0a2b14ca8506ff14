package service

// Logging Standards for smsrelay
//
// Standard field names so poller, scheduler and HTTP logs can be
// queried the same way.
const (
	// Core identifiers
	LogFieldProvider   = "provider"
	LogFieldPhone      = "phone_number"
	LogFieldFrom       = "from_number"
	LogFieldProviderID = "provider_id"
	LogFieldMessageID  = "message_id"
	LogFieldCodeID     = "code_id"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"

	// Service and operation fields
	LogFieldService   = "service"
	LogFieldOperation = "operation"
	LogFieldComponent = "component"
	LogFieldMethod    = "method"
	LogFieldState     = "state"

	// Message fields
	LogFieldPreview = "preview"
	LogFieldCode    = "code"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"
	LogFieldSize     = "size_bytes"

	// Network and external services
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"

	// Error and debugging
	LogFieldErrorCode  = "error_code"
	LogFieldRetryCount = "retry_count"
	LogFieldAttempt    = "attempt"
)

// Log Level Usage Guidelines
//
// DEBUG: per-tick detail, per-message dedup decisions.
// INFO: startup/shutdown, state changes, new messages stored, prune results.
// WARN: rate limiting, transient carrier failures, cache unavailability.
// ERROR: authentication failures, database failures.
//
// Message bodies, codes and phone numbers go through the privacy package
// unless verbose logging is on.
