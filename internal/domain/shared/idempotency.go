package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers gateway event IDs that have already been durably received.
// It is a fast path only; the webhook receipt table stays authoritative.
type IdempotencyStore interface {
	// MarkProcessed marks an event as seen with a TTL.
	// Returns true if the event was newly marked, false if it was already marked.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if an event has already been seen
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// Close releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is how long a seen event ID is remembered by the fast path.
	// Default: 72 hours (the gateway retries deliveries for up to three days)
	TTL time.Duration

	// Enabled determines whether the fast path is consulted at all
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     72 * time.Hour,
		Enabled: true,
	}
}
