package telemetry

import (
	"strconv"
)

// Level classifies event severity.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Category is the fixed taxonomy events are classified under. The collector
// relies on these exact values for routing and aggregation.
type Category string

const (
	CategoryJavascript    Category = "javascript"
	CategoryAsync         Category = "async"
	CategoryResource      Category = "resource"
	CategoryNetwork       Category = "network"
	CategoryPerformance   Category = "performance"
	CategoryUserAction    Category = "user-action"
	CategoryLifecycle     Category = "lifecycle"
	CategoryMemory        Category = "memory"
	CategoryServiceWorker Category = "service-worker"
	CategoryGeneral       Category = "general"
)

// Event is a single telemetry record. CreatedAt is assigned at capture time,
// Sequence at buffer-insertion time; together with SessionID they give the
// collector a total order across retried batches.
type Event struct {
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Category  Category       `json:"category"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	Sequence  uint64         `json:"sequence"`
}

// IsCritical reports whether the event must bypass the debounce window.
func (e Event) IsCritical() bool {
	return e.Level == LevelError
}

// key identifies an event for in-flush deduplication.
func (e Event) key() string {
	return e.SessionID + "/" + strconv.FormatUint(e.Sequence, 10)
}

// SendResult represents the outcome of one delivery attempt.
type SendResult struct {
	Success     bool   `json:"success"`
	Delivered   int    `json:"delivered"`
	StatusCode  int    `json:"status_code,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Diagnostics is a point-in-time view of pipeline health.
type Diagnostics struct {
	BufferSize     int    `json:"buffer_size"`
	PersistedCount int    `json:"persisted_count"`
	RetryAttempts  int    `json:"retry_attempts"`
	SessionID      string `json:"session_id"`
}

// PipelineError represents a pipeline-specific error.
type PipelineError struct {
	Op      string
	Code    string
	Message string
}

func (e *PipelineError) Error() string {
	return e.Message
}

var (
	ErrPipelineClosed = &PipelineError{Op: "pipeline_capture", Code: "closed", Message: "pipeline is closed"}
)
