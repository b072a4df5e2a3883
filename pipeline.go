package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// options collects the injectable collaborators. Defaults reconstruct the
// production wiring; tests swap in fakes.
type options struct {
	transport      Transport
	durableStorage Storage
	sessionStorage Storage
	stateProvider  StateProvider
	clock          func() time.Time
}

// Option configures a Pipeline.
type Option func(*options)

// WithTransport injects a delivery transport, replacing the HTTP transport
// built from the configured endpoint.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithDurableStorage injects the store backing the durable queue and the
// stable user identifier.
func WithDurableStorage(s Storage) Option {
	return func(o *options) { o.durableStorage = s }
}

// WithSessionStorage injects the session-scoped store holding the session
// identifier.
func WithSessionStorage(s Storage) Option {
	return func(o *options) { o.sessionStorage = s }
}

// WithStateProvider injects the source of ambient client state for context
// snapshots.
func WithStateProvider(p StateProvider) Option {
	return func(o *options) { o.stateProvider = p }
}

// WithClock injects the capture-time clock.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// Pipeline is one client-session telemetry instance: it buffers events,
// mirrors them durably, and ships them to the collector. All collaborators
// are held explicitly; there is no package-level state. Every public
// operation is exception-safe and never surfaces an error into the host
// application beyond its return value.
type Pipeline struct {
	config    *Config
	logger    *zap.Logger
	clock     func() time.Time
	identity  *identity
	snapshots *snapshotBuilder
	metrics   *metricsCollector
	durable   *durableQueue
	buffer    *memoryBuffer
	retry     *retryController
	limiter   *rateLimiter
	transport Transport
	scheduler *deliveryScheduler
	sampler   *memorySampler
	endpoint  *Endpoint
	closed    atomic.Bool
}

// NewPipeline constructs a pipeline from configuration and options. The
// pipeline is usable immediately; Start only enables background sampling.
func NewPipeline(config *Config, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if config == nil {
		config = &Config{Enabled: true}
	}
	config.InitDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	durableStorage := o.durableStorage
	if durableStorage == nil {
		if config.Storage.Dir != "" {
			fs, err := NewFileStorage(config.Storage.Dir)
			if err != nil {
				logger.Warn("Durable storage unavailable, running in-memory only", zap.Error(err))
				durableStorage = NoopStorage{}
			} else {
				durableStorage = fs
			}
		} else {
			durableStorage = NoopStorage{}
		}
	}
	sessionStorage := o.sessionStorage
	if sessionStorage == nil {
		sessionStorage = NewMemoryStorage()
	}

	metrics := newMetricsCollector()

	p := &Pipeline{
		config:  config,
		logger:  logger,
		clock:   o.clock,
		metrics: metrics,
	}
	p.identity = newIdentity(durableStorage, sessionStorage, logger)
	p.snapshots = newSnapshotBuilder(o.stateProvider, o.clock)
	p.durable = newDurableQueue(durableStorage, config.Buffer.DurableCapacity, logger)
	p.buffer = newMemoryBuffer(config.Buffer.MemoryCapacity, p.durable, metrics, logger)
	p.retry = newRetryController(&config.Retry, logger, metrics)

	transport := o.transport
	var limiter *rateLimiter
	if transport == nil {
		if config.Endpoint != "" {
			ht, err := NewHTTPTransport(&config.Transport, config.Endpoint, logger)
			if err != nil {
				return nil, err
			}
			transport = ht
			limiter = ht.Limiter()
			p.endpoint = ht.endpoint
		} else {
			logger.Warn("No collector endpoint configured, events will not leave the client")
			transport = &noopTransport{logger: logger}
		}
	}
	if limiter == nil {
		limiter = newRateLimiter(logger)
	}
	p.limiter = limiter
	p.transport = transport
	p.scheduler = newDeliveryScheduler(&config.Buffer, p.buffer, p.durable, transport, p.retry, limiter, metrics, logger)

	if config.Sampling.MemoryInterval > 0 {
		p.sampler = newMemorySampler(p, config.Sampling.MemoryInterval)
	}

	logger.Debug("Telemetry pipeline initialized",
		zap.String("session_id", p.identity.sessionID),
		zap.Int("persisted_backlog", p.durable.Len()),
		zap.Bool("endpoint_configured", config.Endpoint != ""))

	return p, nil
}

// Start enables background sampling. Hosts that feed every signal
// themselves may skip it.
func (p *Pipeline) Start() {
	if p.sampler != nil {
		p.sampler.Start()
	}
}

// Stop performs a best-effort final flush and halts all timers. The flush
// honors the context deadline; there is no guarantee of completion.
func (p *Pipeline) Stop(ctx context.Context) {
	if p.closed.Swap(true) {
		return
	}
	if p.sampler != nil {
		p.sampler.Stop()
	}
	p.retry.Stop()
	p.scheduler.Flush(ctx, triggerUnload)
	p.scheduler.Stop()
}

// capture is the single entry point into the buffer. It assigns the
// sequence number, mirrors durably, and notifies the scheduler. It never
// panics out into the host.
func (p *Pipeline) capture(level Level, message string, category Category, fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Telemetry capture failed", zap.Any("panic", r))
		}
	}()

	if p.closed.Load() {
		return
	}
	if category == "" {
		category = CategoryGeneral
	}
	message = truncate(message, p.config.Sampling.MessageMaxLen)

	event := Event{
		Level:     level,
		Message:   message,
		Category:  category,
		Context:   p.snapshots.Build(fields),
		CreatedAt: p.clock().UTC().Format(time.RFC3339Nano),
		SessionID: p.identity.sessionID,
		UserID:    p.identity.userID,
		Sequence:  p.identity.Next(),
	}

	p.buffer.Push(event)
	p.metrics.IncCapturedEvents(category)
	p.scheduler.Notify(event.IsCritical())
}

// LogDebug records a DEBUG event.
func (p *Pipeline) LogDebug(message string, context map[string]any, category Category) {
	p.capture(LevelDebug, message, category, context)
}

// LogInfo records an INFO event.
func (p *Pipeline) LogInfo(message string, context map[string]any, category Category) {
	p.capture(LevelInfo, message, category, context)
}

// LogWarn records a WARNING event.
func (p *Pipeline) LogWarn(message string, context map[string]any, category Category) {
	p.capture(LevelWarning, message, category, context)
}

// LogError records an ERROR event, triggering an immediate flush.
func (p *Pipeline) LogError(message string, context map[string]any, category Category) {
	p.capture(LevelError, message, category, context)
}

// FlushNow attempts an immediate delivery of everything queued. Returns nil
// when another flush is already in flight or nothing was queued.
func (p *Pipeline) FlushNow() *SendResult {
	return p.scheduler.Flush(context.Background(), triggerManual)
}

// BufferSize returns the number of events in the in-memory buffer.
func (p *Pipeline) BufferSize() int {
	return p.buffer.Len()
}

// PersistedCount returns the number of events in the durable queue.
func (p *Pipeline) PersistedCount() int {
	return p.durable.Len()
}

// ClearBuffer drops all in-memory events without delivering them.
func (p *Pipeline) ClearBuffer() {
	p.buffer.Clear()
}

// ClearPersisted drops the durable backlog.
func (p *Pipeline) ClearPersisted() {
	p.durable.Clear()
}

// SessionID returns the identifier of the current session.
func (p *Pipeline) SessionID() string {
	return p.identity.sessionID
}

// UserID returns the stable anonymous client identifier.
func (p *Pipeline) UserID() string {
	return p.identity.userID
}

// GetDiagnostics returns a point-in-time view of pipeline health.
func (p *Pipeline) GetDiagnostics() Diagnostics {
	return Diagnostics{
		BufferSize:     p.buffer.Len(),
		PersistedCount: p.durable.Len(),
		RetryAttempts:  p.retry.Attempts(),
		SessionID:      p.identity.sessionID,
	}
}

// MetricsCollector exposes the prometheus collector for registration by the
// host.
func (p *Pipeline) MetricsCollector() prometheus.Collector {
	return p.metrics
}

// truncate caps a string at max runes, appending an ellipsis marker.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
