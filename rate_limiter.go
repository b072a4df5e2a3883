package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// rateLimiter tracks a collector-imposed backpressure window. A shedding
// collector answers 429 with Retry-After; while the window is open the
// scheduler suppresses debounced flushes. Critical and externally triggered
// flushes are never gated.
type rateLimiter struct {
	mu            sync.RWMutex
	disabledUntil time.Time
	logger        *zap.Logger
}

func newRateLimiter(logger *zap.Logger) *rateLimiter {
	return &rateLimiter{logger: logger}
}

// IsLimited reports whether the backpressure window is currently open.
func (rl *rateLimiter) IsLimited() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.disabledUntil.After(time.Now())
}

// DisabledUntil returns the end of the current window, zero when closed.
func (rl *rateLimiter) DisabledUntil() time.Time {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if rl.disabledUntil.After(time.Now()) {
		return rl.disabledUntil
	}
	return time.Time{}
}

// HandleRetryAfter processes the Retry-After header of a 429 response
func (rl *rateLimiter) HandleRetryAfter(headers http.Header) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	header := strings.TrimSpace(headers.Get("Retry-After"))

	// Try to parse as seconds
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		rl.disabledUntil = now.Add(time.Duration(seconds) * time.Second)
		rl.logger.Warn("Collector rate limit applied",
			zap.Time("disabled_until", rl.disabledUntil),
			zap.Int("retry_after_seconds", seconds))
		return
	}

	// Try to parse as HTTP date
	if retryTime, err := time.Parse(time.RFC1123, header); err == nil && retryTime.After(now) {
		rl.disabledUntil = retryTime
		rl.logger.Warn("Collector rate limit applied",
			zap.Time("disabled_until", rl.disabledUntil))
		return
	}

	// Default fallback
	rl.disabledUntil = now.Add(60 * time.Second)
	rl.logger.Warn("Unparseable Retry-After header, using default window",
		zap.String("header", header),
		zap.Time("disabled_until", rl.disabledUntil))
}

// Clear closes the window.
func (rl *rateLimiter) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.disabledUntil = time.Time{}
}
