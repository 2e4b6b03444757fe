package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, d *DebouncerImpl, within time.Duration) []PathEvent {
	t.Helper()
	select {
	case batch := <-d.Batches():
		return batch
	case <-time.After(within):
		t.Fatal("timed out waiting for a batch")
		return nil
	}
}

func TestDebouncer(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"FlushOnQuiet", testDebouncerFlushOnQuiet},
		{"FlushOnBatchSize", testDebouncerFlushOnBatchSize},
		{"MaxDelayBoundsCoalescing", testDebouncerMaxDelayBoundsCoalescing},
		{"CloseFlushesPending", testDebouncerCloseFlushesPending},
		{"CloseRacesTimerFlush", testDebouncerCloseRacesTimerFlush},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testDebouncerFlushOnQuiet(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 500*time.Millisecond, 100, 4)
	defer d.Close()

	d.Add(PathEvent{Path: "/a"})
	d.Add(PathEvent{Path: "/b"})
	d.Add(PathEvent{Path: "/c"})

	batch := receiveBatch(t, d, 2*time.Second)
	assert.Len(t, batch, 3, "a quiet period flushes everything accumulated")
	assert.Equal(t, "/a", batch[0].Path)
}

func testDebouncerFlushOnBatchSize(t *testing.T) {
	// Debounce delay far beyond the test timeout: only the size limit can flush
	d := NewDebouncer(time.Hour, 0, 2, 4)
	defer d.Close()

	d.Add(PathEvent{Path: "/a"})
	d.Add(PathEvent{Path: "/b"})

	batch := receiveBatch(t, d, 2*time.Second)
	assert.Len(t, batch, 2)
}

func testDebouncerMaxDelayBoundsCoalescing(t *testing.T) {
	d := NewDebouncer(time.Hour, 50*time.Millisecond, 100, 4)
	defer d.Close()

	// A steady event stream never goes quiet; the max delay must flush anyway
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				d.Add(PathEvent{Path: "/steady"})
			}
		}
	}()
	defer close(stop)

	batch := receiveBatch(t, d, 2*time.Second)
	assert.NotEmpty(t, batch)
}

func testDebouncerCloseFlushesPending(t *testing.T) {
	d := NewDebouncer(time.Hour, 0, 100, 4)
	d.Add(PathEvent{Path: "/pending"})

	d.Close()

	batch, ok := <-d.Batches()
	require.True(t, ok, "the pending batch is flushed on close")
	assert.Len(t, batch, 1)

	_, ok = <-d.Batches()
	assert.False(t, ok, "the channel closes after the final flush")
}

func testDebouncerCloseRacesTimerFlush(t *testing.T) {
	// Armed timers fire concurrently with Close; the closed flag must keep
	// a late flush off the closed channel. Adds after Close are dropped and
	// a second Close is a no-op.
	for i := 0; i < 100; i++ {
		d := NewDebouncer(time.Microsecond, 0, 100, 1)
		d.Add(PathEvent{Path: "/a"})
		d.Add(PathEvent{Path: "/b"})
		time.Sleep(time.Duration(i%5) * time.Microsecond)
		d.Close()

		d.Add(PathEvent{Path: "/late"})
		d.Close()

		drained := 0
		for batch := range d.Batches() {
			drained += len(batch)
			assert.NotContains(t, batch, PathEvent{Path: "/late"})
		}
		assert.LessOrEqual(t, drained, 2)
	}
}
