// Package source defines the carrier-neutral message source used by the poller.
package source

import (
	"context"
	"time"
)

// RawMessage is an inbound SMS as reported by a carrier. Any field may be
// empty; the poller fills in fallbacks.
type RawMessage struct {
	ProviderID string
	From       string
	Body       string
	SentAt     *time.Time
}

// Source lists inbound messages for a destination number.
type Source interface {
	// Name identifies the carrier in logs and status output.
	Name() string
	// TestConnection performs a cheap authenticated call such as an account lookup.
	TestConnection(ctx context.Context) error
	// ListMessages returns messages sent to destination at or after since,
	// newest first, as carriers return them.
	ListMessages(ctx context.Context, destination string, since time.Time) ([]RawMessage, error)
}
