package telemetry

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Event source adapters. Each adapter normalizes one raw platform signal
// into a structured event and hands it to the buffer; delivery is not its
// concern. Adapters never panic out of a signal handler: normalization
// errors degrade to a local log line.

// ErrorSignal is a raw uncaught synchronous error.
type ErrorSignal struct {
	Message string
	File    string
	Line    int
	Column  int
	Stack   string
}

// RejectionSignal is a raw unhandled asynchronous rejection.
type RejectionSignal struct {
	Reason string
	Stack  string
}

// ResourceSignal is a raw failed sub-resource load.
type ResourceSignal struct {
	Tag string
	URL string
}

// NetworkSignal is the outcome of one outbound network call, produced by
// the round-tripper interceptor.
type NetworkSignal struct {
	URL        string
	Method     string
	Status     int
	DurationMS int64
	Error      string
}

// Performance entry kinds reported by the host.
const (
	PerfLargestPaint = "largest-contentful-paint"
	PerfInputDelay   = "first-input-delay"
	PerfLayoutShift  = "layout-shift"
)

// PerformanceSignal is a raw performance observation.
type PerformanceSignal struct {
	Kind   string
	Value  float64
	Detail map[string]any
}

// MemorySignal is one heap usage sample. LimitBytes zero means the platform
// exposes no limit.
type MemorySignal struct {
	UsedBytes  uint64
	TotalBytes uint64
	LimitBytes uint64
}

// InteractionSignal is one sampled user interaction.
type InteractionSignal struct {
	Element    string
	Attributes map[string]string
	Text       string
}

// recoverAdapter contains a panic escaping adapter normalization.
func (p *Pipeline) recoverAdapter(adapter string) {
	if r := recover(); r != nil {
		p.logger.Error("Telemetry adapter failed",
			zap.String("adapter", adapter),
			zap.Any("panic", r))
	}
}

// OnError handles an uncaught synchronous error.
func (p *Pipeline) OnError(sig ErrorSignal) {
	defer p.recoverAdapter("error")

	message := sig.Message
	if message == "" {
		message = "uncaught error"
	}
	p.capture(LevelError, message, CategoryJavascript, map[string]any{
		"file":   nullable(sig.File),
		"line":   sig.Line,
		"column": sig.Column,
		"stack":  nullable(sig.Stack),
	})
}

// OnRejection handles an unhandled asynchronous rejection.
func (p *Pipeline) OnRejection(sig RejectionSignal) {
	defer p.recoverAdapter("rejection")

	reason := sig.Reason
	if reason == "" {
		reason = "unhandled rejection"
	}
	p.capture(LevelError, "Unhandled rejection: "+reason, CategoryAsync, map[string]any{
		"reason": nullable(sig.Reason),
		"stack":  nullable(sig.Stack),
	})
}

// OnResourceError handles a failed sub-resource load.
func (p *Pipeline) OnResourceError(sig ResourceSignal) {
	defer p.recoverAdapter("resource")

	p.capture(LevelError, fmt.Sprintf("Failed to load resource: %s", sig.URL), CategoryResource, map[string]any{
		"tag": nullable(sig.Tag),
		"url": nullable(sig.URL),
	})
}

// OnNetworkOutcome handles the outcome of one outbound network call:
// INFO on success, WARNING on a non-success status, ERROR on hard failure.
func (p *Pipeline) OnNetworkOutcome(sig NetworkSignal) {
	defer p.recoverAdapter("network")

	fields := map[string]any{
		"url":         sig.URL,
		"method":      sig.Method,
		"status":      sig.Status,
		"duration_ms": sig.DurationMS,
	}

	switch {
	case sig.Error != "":
		fields["error"] = sig.Error
		p.capture(LevelError, fmt.Sprintf("%s %s failed: %s", sig.Method, sig.URL, sig.Error), CategoryNetwork, fields)
	case sig.Status >= 400:
		p.capture(LevelWarning, fmt.Sprintf("%s %s -> %d", sig.Method, sig.URL, sig.Status), CategoryNetwork, fields)
	default:
		p.capture(LevelInfo, fmt.Sprintf("%s %s -> %d", sig.Method, sig.URL, sig.Status), CategoryNetwork, fields)
	}
}

// OnPerformanceEntry handles a performance observation. Layout shifts below
// the significance threshold are not reported.
func (p *Pipeline) OnPerformanceEntry(sig PerformanceSignal) {
	defer p.recoverAdapter("performance")

	if sig.Kind == PerfLayoutShift && sig.Value < p.config.Sampling.LayoutShiftThreshold {
		return
	}

	fields := map[string]any{
		"entry": sig.Kind,
		"value": sig.Value,
	}
	for k, v := range sig.Detail {
		fields[k] = v
	}
	p.capture(LevelInfo, fmt.Sprintf("Performance: %s=%.2f", sig.Kind, sig.Value), CategoryPerformance, fields)
}

// OnMemorySample handles one heap sample, escalating to WARNING when usage
// crosses the configured ratio of the limit.
func (p *Pipeline) OnMemorySample(sig MemorySignal) {
	defer p.recoverAdapter("memory")

	fields := map[string]any{
		"used_bytes":  sig.UsedBytes,
		"total_bytes": sig.TotalBytes,
	}

	level := LevelDebug
	message := "Memory sample"
	if sig.LimitBytes > 0 {
		ratio := float64(sig.UsedBytes) / float64(sig.LimitBytes)
		fields["limit_bytes"] = sig.LimitBytes
		fields["usage_ratio"] = ratio
		if ratio >= p.config.Sampling.MemoryWarnRatio {
			level = LevelWarning
			message = fmt.Sprintf("Memory usage at %.0f%% of limit", ratio*100)
		}
	}
	p.capture(level, message, CategoryMemory, fields)
}

// OnInteraction handles one sampled user interaction. Visible text is
// truncated before leaving the client.
func (p *Pipeline) OnInteraction(sig InteractionSignal) {
	defer p.recoverAdapter("interaction")

	fields := map[string]any{
		"element": nullable(sig.Element),
		"text":    nullable(truncate(sig.Text, 80)),
	}
	if len(sig.Attributes) > 0 {
		attrs := make(map[string]any, len(sig.Attributes))
		for k, v := range sig.Attributes {
			attrs[k] = v
		}
		fields["attributes"] = attrs
	}
	p.capture(LevelDebug, "Interaction: "+sig.Element, CategoryUserAction, fields)
}

// OnVisibilityChange handles a page visibility transition. Becoming visible
// flushes any accumulated and previously-durable events.
func (p *Pipeline) OnVisibilityChange(visible bool) {
	defer p.recoverAdapter("visibility")

	state := "hidden"
	if visible {
		state = "visible"
	}
	p.capture(LevelInfo, "Visibility: "+state, CategoryLifecycle, map[string]any{
		"visible": visible,
	})

	if visible {
		go p.scheduler.Flush(context.Background(), triggerVisible)
	}
}

// OnConnectivityChange handles a connectivity transition. Restored
// connectivity flushes the backlog accumulated while offline.
func (p *Pipeline) OnConnectivityChange(online bool) {
	defer p.recoverAdapter("connectivity")

	if online {
		p.capture(LevelInfo, "Connectivity restored", CategoryNetwork, map[string]any{
			"online": true,
		})
		go p.scheduler.Flush(context.Background(), triggerOnline)
		return
	}

	p.capture(LevelWarning, "Connectivity lost", CategoryNetwork, map[string]any{
		"online": false,
	})
}

// OnUnload performs the best-effort synchronous flush at page unload.
// Fire-and-forget: the context bounds the attempt, completion is not
// guaranteed.
func (p *Pipeline) OnUnload(ctx context.Context) {
	defer p.recoverAdapter("unload")

	p.capture(LevelInfo, "Page unloading", CategoryLifecycle, nil)
	p.scheduler.Flush(ctx, triggerUnload)
}
