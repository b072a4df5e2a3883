package telemetry

import (
	"fmt"
	"time"
)

// Config represents the pipeline configuration
type Config struct {
	// Enable/disable the pipeline
	Enabled bool `mapstructure:"enabled"`

	// Collector base URL; the ingestion path is derived from it
	Endpoint string `mapstructure:"endpoint"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport"`

	// Retry configuration
	Retry RetryConfig `mapstructure:"retry"`

	// Buffer and durable queue configuration
	Buffer BufferConfig `mapstructure:"buffer"`

	// Signal sampling configuration
	Sampling SamplingConfig `mapstructure:"sampling"`

	// Durable storage configuration
	Storage StorageConfig `mapstructure:"storage"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout
	Timeout time.Duration `mapstructure:"timeout"`
	// Enable gzip compression of batch bodies
	Compression bool `mapstructure:"compression"`
	// SSL verification
	SSLVerify bool `mapstructure:"ssl_verify"`
	// Proxy settings
	Proxy string `mapstructure:"proxy"`
}

// RetryConfig contains retry mechanism settings
type RetryConfig struct {
	// Maximum retry attempts before a batch is abandoned to the durable queue
	MaxAttempts int `mapstructure:"max_attempts"`
	// Fixed backoff sequence indexed by attempt count
	Backoff []time.Duration `mapstructure:"backoff"`
}

// backoffFor returns the delay preceding the retry that follows the given
// failed attempt. The sequence is clamped at its last entry.
func (cfg *RetryConfig) backoffFor(attempt int) time.Duration {
	if len(cfg.Backoff) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(cfg.Backoff) {
		idx = len(cfg.Backoff) - 1
	}
	return cfg.Backoff[idx]
}

// BufferConfig contains buffer and durable queue settings
type BufferConfig struct {
	// In-memory buffer capacity (oldest events evicted beyond it)
	MemoryCapacity int `mapstructure:"memory_capacity"`
	// Durable queue capacity; must be >= memory capacity
	DurableCapacity int `mapstructure:"durable_capacity"`
	// Maximum events per delivery batch; the collector caps entries per request
	MaxBatchEntries int `mapstructure:"max_batch_entries"`
	// Idle window before a non-critical flush
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
}

// SamplingConfig contains event source sampling settings
type SamplingConfig struct {
	// Interval between heap samples; zero disables the sampler
	MemoryInterval time.Duration `mapstructure:"memory_interval"`
	// Heap usage ratio above which memory samples escalate to WARNING
	MemoryWarnRatio float64 `mapstructure:"memory_warn_ratio"`
	// Layout shifts below this value are not reported
	LayoutShiftThreshold float64 `mapstructure:"layout_shift_threshold"`
	// Message length cap applied at capture time
	MessageMaxLen int `mapstructure:"message_max_len"`
}

// StorageConfig contains durable persistence settings
type StorageConfig struct {
	// Directory for the file-backed store; empty means in-memory only
	Dir string `mapstructure:"dir"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 10 * time.Second
	}
	if !cfg.Transport.Compression {
		cfg.Transport.Compression = true
	}
	if !cfg.Transport.SSLVerify {
		cfg.Transport.SSLVerify = true
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if len(cfg.Retry.Backoff) == 0 {
		cfg.Retry.Backoff = []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}
	}

	if cfg.Buffer.MemoryCapacity == 0 {
		cfg.Buffer.MemoryCapacity = 50
	}
	if cfg.Buffer.DurableCapacity == 0 {
		cfg.Buffer.DurableCapacity = 100
	}
	if cfg.Buffer.MaxBatchEntries == 0 {
		cfg.Buffer.MaxBatchEntries = 500
	}
	if cfg.Buffer.DebounceWindow == 0 {
		cfg.Buffer.DebounceWindow = 2 * time.Second
	}

	if cfg.Sampling.MemoryInterval == 0 {
		cfg.Sampling.MemoryInterval = 30 * time.Second
	}
	if cfg.Sampling.MemoryWarnRatio == 0 {
		cfg.Sampling.MemoryWarnRatio = 0.8
	}
	if cfg.Sampling.LayoutShiftThreshold == 0 {
		cfg.Sampling.LayoutShiftThreshold = 0.1
	}
	if cfg.Sampling.MessageMaxLen == 0 {
		cfg.Sampling.MessageMaxLen = 2000
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if cfg.Buffer.MemoryCapacity <= 0 {
		cfg.Buffer.MemoryCapacity = 50
	}
	if cfg.Buffer.DurableCapacity < cfg.Buffer.MemoryCapacity {
		return fmt.Errorf("durable_capacity (%d) must be >= memory_capacity (%d)",
			cfg.Buffer.DurableCapacity, cfg.Buffer.MemoryCapacity)
	}
	if cfg.Retry.MaxAttempts < 0 {
		cfg.Retry.MaxAttempts = 0
	}
	if cfg.Sampling.MemoryWarnRatio < 0 || cfg.Sampling.MemoryWarnRatio > 1 {
		return fmt.Errorf("memory_warn_ratio must be within [0,1], got %f", cfg.Sampling.MemoryWarnRatio)
	}
	return nil
}
