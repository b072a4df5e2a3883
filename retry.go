package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// retryController tracks the delivery retry budget. On failure the attempt
// count grows and a retry is scheduled from the fixed backoff sequence;
// past the cap the batch is abandoned to the durable queue and the budget
// resets so future independent failures start fresh.
type retryController struct {
	mu       sync.Mutex
	config   *RetryConfig
	logger   *zap.Logger
	metrics  *metricsCollector
	attempts int
	timer    *time.Timer
}

func newRetryController(config *RetryConfig, logger *zap.Logger, metrics *metricsCollector) *retryController {
	return &retryController{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Attempts returns the current attempt count.
func (rc *retryController) Attempts() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.attempts
}

// OnFailure records a failed delivery. While the budget lasts it schedules
// retry as a single replaceable deferred task and returns true. Once
// exhausted it logs the abandonment, resets the budget, and returns false;
// the events stay in the durable queue for the next external trigger.
func (rc *retryController) OnFailure(retry func()) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.attempts++

	if rc.attempts > rc.config.MaxAttempts {
		rc.logger.Warn("Delivery abandoned after max attempts",
			zap.Int("attempts", rc.attempts-1),
			zap.Int("max_attempts", rc.config.MaxAttempts))
		rc.metrics.IncAbandonedBatches()
		rc.attempts = 0
		rc.stopTimerLocked()
		return false
	}

	backoff := rc.config.backoffFor(rc.attempts)
	rc.metrics.IncRetryAttempts()
	rc.stopTimerLocked()
	rc.timer = time.AfterFunc(backoff, retry)

	rc.logger.Debug("Scheduled delivery retry",
		zap.Int("attempt", rc.attempts),
		zap.Duration("backoff", backoff))
	return true
}

// OnSuccess resets the retry budget and cancels any pending retry.
func (rc *retryController) OnSuccess() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.attempts = 0
	rc.stopTimerLocked()
}

// Stop cancels any pending retry.
func (rc *retryController) Stop() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stopTimerLocked()
}

func (rc *retryController) stopTimerLocked() {
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
}
