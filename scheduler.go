package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// flushTrigger identifies what caused a delivery attempt.
type flushTrigger string

const (
	triggerDebounce flushTrigger = "debounce"
	triggerCritical flushTrigger = "critical"
	triggerRetry    flushTrigger = "retry"
	triggerVisible  flushTrigger = "visible"
	triggerOnline   flushTrigger = "online"
	triggerUnload   flushTrigger = "unload"
	triggerManual   flushTrigger = "manual"
)

// external reports whether the trigger came from outside the pipeline
// (visibility, connectivity, unload). External flushes ignore the
// rate-limit gate.
func (t flushTrigger) external() bool {
	return t == triggerVisible || t == triggerOnline || t == triggerUnload
}

// deliveryScheduler decides when a flush happens. Critical events flush
// immediately, normal events after an idle debounce window, and external
// signals flush whatever has accumulated, including the durable backlog.
// At most one delivery is in flight per pipeline instance; a flush request
// arriving meanwhile is ignored and its events stay buffered.
type deliveryScheduler struct {
	mu       sync.Mutex
	window   time.Duration
	maxBatch int
	timer    *time.Timer
	inFlight bool

	buffer    *memoryBuffer
	durable   *durableQueue
	transport Transport
	retry     *retryController
	limiter   *rateLimiter
	metrics   *metricsCollector
	logger    *zap.Logger
}

func newDeliveryScheduler(
	cfg *BufferConfig,
	buffer *memoryBuffer,
	durable *durableQueue,
	transport Transport,
	retry *retryController,
	limiter *rateLimiter,
	metrics *metricsCollector,
	logger *zap.Logger,
) *deliveryScheduler {
	return &deliveryScheduler{
		window:    cfg.DebounceWindow,
		maxBatch:  cfg.MaxBatchEntries,
		buffer:    buffer,
		durable:   durable,
		transport: transport,
		retry:     retry,
		limiter:   limiter,
		metrics:   metrics,
		logger:    logger,
	}
}

// Notify signals that an event was buffered. Critical events trigger an
// immediate flush; others arm the debounce timer unless one is pending, so
// a burst coalesces into a single flush.
func (s *deliveryScheduler) Notify(critical bool) {
	if critical {
		go s.Flush(context.Background(), triggerCritical)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		s.timer = time.AfterFunc(s.window, s.debounceFired)
	}
}

func (s *deliveryScheduler) debounceFired() {
	s.Flush(context.Background(), triggerDebounce)
}

// Flush attempts one delivery of everything queued: the durable backlog
// first, then live buffer events not already mirrored there. Returns nil
// when the flush was skipped (in flight, rate limited, or nothing queued).
func (s *deliveryScheduler) Flush(ctx context.Context, trigger flushTrigger) *SendResult {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if trigger == triggerDebounce && s.limiter.IsLimited() {
		// Re-arm past the backpressure window instead of hammering the
		// collector. Critical and external triggers are not gated.
		delay := time.Until(s.limiter.DisabledUntil())
		if delay < s.window {
			delay = s.window
		}
		s.timer = time.AfterFunc(delay, s.debounceFired)
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	batch := s.collect()
	if len(batch) == 0 {
		return nil
	}

	critical := trigger == triggerCritical || trigger == triggerUnload
	if !critical {
		for _, ev := range batch {
			if ev.IsCritical() {
				critical = true
				break
			}
		}
	}

	result := s.transport.Send(ctx, batch, critical)
	if result.Success {
		s.retry.OnSuccess()
		s.metrics.AddSentEvents(len(batch))
		s.logger.Debug("Flush delivered",
			zap.String("trigger", string(trigger)),
			zap.Int("batch_size", len(batch)))
		return result
	}

	// Failed batch goes back to the front of the durable queue; nothing is
	// dropped on a first failure.
	s.durable.Requeue(batch)
	s.metrics.AddFailedEvents(len(batch))
	s.logger.Debug("Flush failed",
		zap.String("trigger", string(trigger)),
		zap.Int("batch_size", len(batch)),
		zap.String("error", result.Error))

	if trigger != triggerUnload {
		s.retry.OnFailure(func() {
			s.Flush(context.Background(), triggerRetry)
		})
	}
	return result
}

// collect merges the durable backlog with live buffer events, deduplicated
// by session and sequence, preserving insertion order. Overflow beyond the
// batch cap is returned to the durable queue for the next flush.
func (s *deliveryScheduler) collect() []Event {
	backlog := s.durable.DrainAll()
	live := s.buffer.Drain()

	seen := make(map[string]struct{}, len(backlog))
	for _, ev := range backlog {
		seen[ev.key()] = struct{}{}
	}

	batch := backlog
	for _, ev := range live {
		if _, dup := seen[ev.key()]; dup {
			continue
		}
		batch = append(batch, ev)
	}

	if s.maxBatch > 0 && len(batch) > s.maxBatch {
		overflow := batch[s.maxBatch:]
		batch = batch[:s.maxBatch:s.maxBatch]
		s.durable.Requeue(overflow)
	}
	return batch
}

// Stop cancels any pending debounce timer.
func (s *deliveryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
