package telemetry

import (
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// memorySampler periodically feeds heap statistics to the memory adapter.
// It is the Go-native provider of the memory signal; hosts on platforms
// with their own heap metrics can leave it disabled and call OnMemorySample
// directly.
type memorySampler struct {
	pipeline *Pipeline
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
}

func newMemorySampler(pipeline *Pipeline, interval time.Duration) *memorySampler {
	return &memorySampler{
		pipeline: pipeline,
		interval: interval,
	}
}

// Start launches the sampling loop. Subsequent calls are no-ops.
func (s *memorySampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	go s.loop(s.stopCh)
}

func (s *memorySampler) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.pipeline.OnMemorySample(readMemorySignal())
		}
	}
}

// Stop halts the sampling loop.
func (s *memorySampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	close(s.stopCh)
}

// readMemorySignal captures the current heap usage. The soft memory limit
// counts as the platform limit only when one is actually set.
func readMemorySignal() MemorySignal {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	sig := MemorySignal{
		UsedBytes:  stats.HeapAlloc,
		TotalBytes: stats.Sys,
	}

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		sig.LimitBytes = uint64(limit)
	}
	return sig
}
