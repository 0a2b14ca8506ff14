package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"smsrelay/internal/errors"
	"smsrelay/internal/privacy"
	"smsrelay/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool     `json:"log_request_headers"`
	LogResponseBody   bool     `json:"log_response_body"`
	MaxBodySize       int      `json:"max_body_size"`     // Maximum bytes to log
	SensitiveHeaders  []string `json:"sensitive_headers"` // Headers to mask
	SkipEndpoints     []string `json:"skip_endpoints"`    // Endpoints to skip detailed logging
}

// DefaultDetailedLoggingConfig returns sensible defaults
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogResponseBody:   true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "x-api-key", "cookie", "set-cookie", "x-auth-token",
		},
		SkipEndpoints: []string{
			"/metrics", "/health",
		},
	}
}

// DetailedLoggingMiddleware logs request headers and response bodies at
// debug level. Digit runs in bodies are masked so codes never reach the log.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, skip := range config.SkipEndpoints {
				if r.URL.Path == skip {
					next.ServeHTTP(w, r)
					return
				}
			}

			requestID := errors.RequestID(r.Context())
			logRequestDetails(logger, r, requestID, config)

			if !config.LogResponseBody {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{
				ResponseWriter: w,
				body:           bytes.NewBuffer(nil),
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, capture, requestID, config)
		})
	}
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, requestID string, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: requestID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldURL:       routeTemplate(r),
		"protocol":                r.Proto,
	}

	if config.LogRequestHeaders {
		headers := make(map[string]string, len(r.Header))
		for name, values := range r.Header {
			if isSensitiveHeader(name, config.SensitiveHeaders) {
				headers[name] = "***MASKED***"
			} else {
				headers[name] = strings.Join(values, ", ")
			}
		}
		fields["request_headers"] = headers
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, requestID string, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  requestID,
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.body.Len(),
	}

	if bodySize := capture.body.Len(); bodySize > 0 {
		if bodySize <= config.MaxBodySize {
			fields["response_body"] = privacy.MaskDigitRuns(capture.body.String())
		} else {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", bodySize)
		}
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// responseCaptureWrapper captures response data for logging
type responseCaptureWrapper struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(data)
	if err == nil {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	rc.statusCode = statusCode
	rc.ResponseWriter.WriteHeader(statusCode)
}

// isSensitiveHeader checks if a header should be masked
func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}
