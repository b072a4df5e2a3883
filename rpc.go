package telemetry

import (
	"go.uber.org/zap"
)

// RPC exposes the pipeline's public API to host processes
type RPC struct {
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewRPC creates a new RPC instance
func NewRPC(pipeline *Pipeline, logger *zap.Logger) *RPC {
	return &RPC{
		pipeline: pipeline,
		logger:   logger,
	}
}

// LogRequest carries one event from the host
type LogRequest struct {
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Category string         `json:"category"`
	Context  map[string]any `json:"context,omitempty"`
}

// LogResponse reports whether the event was accepted
type LogResponse struct {
	Accepted bool `json:"accepted"`
}

// Log buffers a single event
func (r *RPC) Log(req *LogRequest, resp *LogResponse) error {
	r.logger.Debug("Received event via RPC",
		zap.String("level", req.Level),
		zap.String("category", req.Category))

	category := Category(req.Category)

	switch Level(req.Level) {
	case LevelError:
		r.pipeline.LogError(req.Message, req.Context, category)
	case LevelWarning:
		r.pipeline.LogWarn(req.Message, req.Context, category)
	case LevelInfo:
		r.pipeline.LogInfo(req.Message, req.Context, category)
	default:
		r.pipeline.LogDebug(req.Message, req.Context, category)
	}

	resp.Accepted = true
	return nil
}

// LogBatch buffers a batch of events
func (r *RPC) LogBatch(reqs []*LogRequest, resp *LogResponse) error {
	r.logger.Debug("Received batch of events via RPC",
		zap.Int("count", len(reqs)))

	for _, req := range reqs {
		var one LogResponse
		if err := r.Log(req, &one); err != nil {
			return err
		}
	}

	resp.Accepted = true
	return nil
}

// Flush attempts an immediate delivery
func (r *RPC) Flush(_ bool, resp *SendResult) error {
	result := r.pipeline.FlushNow()
	if result == nil {
		// Nothing queued or a flush already in flight; not a failure.
		*resp = SendResult{Success: true}
		return nil
	}
	*resp = *result
	return nil
}

// Diagnostics reports current pipeline health
func (r *RPC) Diagnostics(_ bool, resp *Diagnostics) error {
	*resp = r.pipeline.GetDiagnostics()
	return nil
}

// ClearBuffer drops all in-memory events
func (r *RPC) ClearBuffer(_ bool, resp *bool) error {
	r.pipeline.ClearBuffer()
	*resp = true
	return nil
}

// ClearPersisted drops the durable backlog
func (r *RPC) ClearPersisted(_ bool, resp *bool) error {
	r.pipeline.ClearPersisted()
	*resp = true
	return nil
}
