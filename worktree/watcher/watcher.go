package watcher

import (
	"context"
	"time"
)

// PathEvent is one batched filesystem change notification. Flags are the raw
// backend bits and are treated opaquely downstream: the scanner re-stats
// every path regardless of what the flags claim happened.
type PathEvent struct {
	Path  string // absolute path
	Flags uint32
}

// Watcher watches a directory subtree and delivers debounced event batches.
type Watcher interface {
	// Start begins watching the given root recursively
	Start(ctx context.Context, root string) error

	// Batches returns the channel of debounced event batches
	Batches() <-chan []PathEvent

	// Errors returns a channel of errors encountered during watching
	Errors() <-chan error

	// Close stops watching and cleans up resources
	Close() error
}

// Config holds tuning knobs for the watcher.
type Config struct {
	// DebounceDelay is the quiet period before a batch is flushed
	DebounceDelay time.Duration

	// MaxDebounceDelay caps how long a busy stream can defer a flush
	MaxDebounceDelay time.Duration

	// BatchSize flushes a batch immediately once it grows this large
	BatchSize int

	// QueueCapacity is the capacity of the batch delivery channel
	QueueCapacity int
}

// Debouncer coalesces raw notifications into batches.
type Debouncer interface {
	// Add adds an event to the pending batch
	Add(event PathEvent)

	// Batches returns flushed batches
	Batches() <-chan []PathEvent

	// Close stops the debouncer and closes the batch channel
	Close()
}
