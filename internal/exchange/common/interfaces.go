package common

import (
	"context"
	"errors"
)

// ErrRateLimited reports that the venue refused a snapshot request due to
// request-weight limits. Recovered by the engine's degraded-mode fallback,
// never fatal.
var ErrRateLimited = errors.New("snapshot source rate limited")

// ErrMalformedEvent marks payloads that failed boundary validation. Such
// events are dropped with a diagnostic and do not affect the watermark.
var ErrMalformedEvent = errors.New("malformed event")

// SnapshotSource provides the one-shot authoritative book snapshot. A single
// call, no retries: retry policy lives in the engine's state transitions.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, symbol string) (BookSnapshot, error)
}

// StreamSource delivers the live event sequence to out until ctx is done.
// Delivery order is trusted as arrival order; sequence ids inside DepthDelta
// are the only trusted ordering signal for application.
type StreamSource interface {
	Name() string
	Run(ctx context.Context, symbol string, out chan<- StreamEvent) error
}
