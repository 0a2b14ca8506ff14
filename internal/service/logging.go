package service

import (
	"context"

	"smsrelay/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// WithVerbose marks ctx so message details are logged unmasked.
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

func loggedPhone(ctx context.Context, phone string) string {
	if IsVerboseLogging(ctx) {
		return phone
	}
	return privacy.MaskPhoneNumber(phone)
}

func loggedCode(ctx context.Context, code string) string {
	if IsVerboseLogging(ctx) {
		return code
	}
	return privacy.MaskCode(code)
}

// messageFields returns log fields describing a stored SMS. Without verbose
// logging the sender, body and code are masked.
func messageFields(ctx context.Context, from, providerID, body, code string) logrus.Fields {
	verbose := IsVerboseLogging(ctx)

	fields := logrus.Fields{
		LogFieldFrom:       loggedPhone(ctx, from),
		LogFieldProviderID: providerID,
		LogFieldPreview:    body,
	}
	if !verbose {
		fields[LogFieldProviderID] = privacy.MaskProviderID(providerID)
		fields[LogFieldPreview] = privacy.PreviewBody(body)
	}
	if code != "" {
		fields[LogFieldCode] = loggedCode(ctx, code)
	}
	return fields
}
