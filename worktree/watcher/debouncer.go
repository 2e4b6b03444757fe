package watcher

import (
	"context"
	"sync"
	"time"
)

// DebouncerImpl implements the Debouncer interface. Events accumulate until
// the stream goes quiet for the debounce delay, the batch hits the size
// limit, or the max delay expires, whichever comes first.
type DebouncerImpl struct {
	delay     time.Duration
	maxDelay  time.Duration
	batchSize int

	batchChan chan []PathEvent
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	closed   bool
	pending  []PathEvent
	timer    *time.Timer
	firstAdd time.Time
}

// NewDebouncer creates a new debouncer.
func NewDebouncer(delay, maxDelay time.Duration, batchSize, queueCapacity int) *DebouncerImpl {
	ctx, cancel := context.WithCancel(context.Background())

	return &DebouncerImpl{
		delay:     delay,
		maxDelay:  maxDelay,
		batchSize: batchSize,
		batchChan: make(chan []PathEvent, queueCapacity),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Add adds an event to the pending batch. Events added after Close are
// dropped.
func (d *DebouncerImpl) Add(event PathEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if len(d.pending) == 0 {
		d.firstAdd = time.Now()
	}
	d.pending = append(d.pending, event)

	if d.batchSize > 0 && len(d.pending) >= d.batchSize {
		d.flushLocked()
		return
	}

	wait := d.delay
	if d.maxDelay > 0 {
		if remaining := d.maxDelay - time.Since(d.firstAdd); remaining < wait {
			wait = remaining
		}
	}
	if wait < 0 {
		d.flushLocked()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(wait, d.flush)
}

// Batches returns the flushed batch channel.
func (d *DebouncerImpl) Batches() <-chan []PathEvent {
	return d.batchChan
}

func (d *DebouncerImpl) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

// flushLocked sends the pending batch (mutex held). The closed check keeps a
// timer that fired concurrently with Close from sending on the closed channel.
func (d *DebouncerImpl) flushLocked() {
	if d.closed || len(d.pending) == 0 {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	batch := d.pending
	d.pending = nil

	select {
	case d.batchChan <- batch:
	case <-d.ctx.Done():
	}
}

// Close stops the debouncer, flushing any pending batch first. Safe to call
// more than once. Cancellation happens before taking the mutex so a flush
// blocked on a full channel is released rather than deadlocking the close.
func (d *DebouncerImpl) Close() {
	d.cancel()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(pending) > 0 {
		select {
		case d.batchChan <- pending:
		default:
		}
	}
	close(d.batchChan)
}
