package model

import "context"

// Sink consumes batches of classification events.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write delivers a batch. Implementations must not retain the slice.
	Write(ctx context.Context, events []Event) error

	// Close flushes buffered state and releases resources.
	Close() error
}
