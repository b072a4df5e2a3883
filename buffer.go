package telemetry

import (
	"sync"

	"go.uber.org/zap"
)

// memoryBuffer is the working set of events accumulated since the last
// successful flush. Every accepted event is mirrored into the durable queue
// before Push returns, so nothing is buffer-only across a reload.
type memoryBuffer struct {
	mu       sync.Mutex
	capacity int
	pending  []Event

	durable *durableQueue
	metrics *metricsCollector
	logger  *zap.Logger
}

func newMemoryBuffer(capacity int, durable *durableQueue, metrics *metricsCollector, logger *zap.Logger) *memoryBuffer {
	return &memoryBuffer{
		capacity: capacity,
		durable:  durable,
		metrics:  metrics,
		logger:   logger,
	}
}

// Push accepts an event and mirrors it into the durable queue. Beyond
// capacity the oldest in-memory entries are evicted; their durable copies
// remain until the queue itself evicts them.
func (b *memoryBuffer) Push(event Event) {
	b.mu.Lock()
	b.pending = append(b.pending, event)
	if b.capacity > 0 && len(b.pending) > b.capacity {
		evicted := len(b.pending) - b.capacity
		b.pending = b.pending[evicted:]
		b.metrics.IncDroppedEvents()
		b.logger.Debug("Memory buffer at capacity, evicted oldest events", zap.Int("count", evicted))
	}
	b.mu.Unlock()

	b.durable.Append(event)
}

// Drain atomically empties the buffer and returns its contents. Pushes that
// arrive afterwards start a new batch.
func (b *memoryBuffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.pending
	b.pending = nil
	return out
}

// Len returns the number of buffered events.
func (b *memoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Clear drops all buffered events without delivering them.
func (b *memoryBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}
