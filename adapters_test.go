package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainOne captures whatever is buffered and returns the single expected event.
func drainOne(t *testing.T, p *Pipeline) Event {
	t.Helper()
	events := p.buffer.Drain()
	require.Len(t, events, 1)
	return events[0]
}

func TestOnErrorNormalization(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnError(ErrorSignal{
		Message: "boom",
		File:    "app.js",
		Line:    42,
		Column:  7,
		Stack:   "at boom (app.js:42:7)",
	})

	ev := drainOne(t, p)
	assert.Equal(t, LevelError, ev.Level)
	assert.Equal(t, CategoryJavascript, ev.Category)
	assert.Equal(t, "boom", ev.Message)
	assert.Equal(t, "app.js", ev.Context["file"])
	assert.Equal(t, 42, ev.Context["line"])
	assert.Equal(t, "at boom (app.js:42:7)", ev.Context["stack"])
}

func TestOnErrorEmptyMessageFallback(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnError(ErrorSignal{})

	ev := drainOne(t, p)
	assert.Equal(t, "uncaught error", ev.Message)
	assert.Nil(t, ev.Context["file"])
}

func TestOnRejectionNormalization(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnRejection(RejectionSignal{Reason: "timeout waiting for reply"})

	ev := drainOne(t, p)
	assert.Equal(t, LevelError, ev.Level)
	assert.Equal(t, CategoryAsync, ev.Category)
	assert.Equal(t, "Unhandled rejection: timeout waiting for reply", ev.Message)
}

func TestOnResourceError(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnResourceError(ResourceSignal{Tag: "img", URL: "https://cdn.example/logo.png"})

	ev := drainOne(t, p)
	assert.Equal(t, LevelError, ev.Level)
	assert.Equal(t, CategoryResource, ev.Category)
	assert.Equal(t, "img", ev.Context["tag"])
}

func TestOnNetworkOutcomeLevels(t *testing.T) {
	tests := []struct {
		name  string
		sig   NetworkSignal
		level Level
	}{
		{
			name:  "success is info",
			sig:   NetworkSignal{URL: "https://api.example/v1", Method: "GET", Status: 200, DurationMS: 12},
			level: LevelInfo,
		},
		{
			name:  "client error is warning",
			sig:   NetworkSignal{URL: "https://api.example/v1", Method: "POST", Status: 404, DurationMS: 8},
			level: LevelWarning,
		},
		{
			name:  "server error is warning",
			sig:   NetworkSignal{URL: "https://api.example/v1", Method: "POST", Status: 503, DurationMS: 30},
			level: LevelWarning,
		},
		{
			name:  "hard failure is error",
			sig:   NetworkSignal{URL: "https://api.example/v1", Method: "GET", Error: "connection refused"},
			level: LevelError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(t, nil)

			p.OnNetworkOutcome(tt.sig)

			ev := drainOne(t, p)
			assert.Equal(t, tt.level, ev.Level)
			assert.Equal(t, CategoryNetwork, ev.Category)
			assert.Equal(t, tt.sig.Method, ev.Context["method"])
		})
	}
}

func TestLayoutShiftBelowThresholdIgnored(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnPerformanceEntry(PerformanceSignal{Kind: PerfLayoutShift, Value: 0.05})
	assert.Zero(t, p.BufferSize())

	p.OnPerformanceEntry(PerformanceSignal{Kind: PerfLayoutShift, Value: 0.3})
	ev := drainOne(t, p)
	assert.Equal(t, CategoryPerformance, ev.Category)
	assert.Equal(t, 0.3, ev.Context["value"])
}

func TestPerformanceEntryCarriesDetail(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnPerformanceEntry(PerformanceSignal{
		Kind:   PerfLargestPaint,
		Value:  1834.5,
		Detail: map[string]any{"element": "main-image"},
	})

	ev := drainOne(t, p)
	assert.Equal(t, LevelInfo, ev.Level)
	assert.Equal(t, PerfLargestPaint, ev.Context["entry"])
	assert.Equal(t, "main-image", ev.Context["element"])
}

func TestMemorySampleEscalation(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnMemorySample(MemorySignal{UsedBytes: 10, TotalBytes: 20, LimitBytes: 100})
	ev := drainOne(t, p)
	assert.Equal(t, LevelDebug, ev.Level)
	assert.Equal(t, CategoryMemory, ev.Category)

	p.OnMemorySample(MemorySignal{UsedBytes: 90, TotalBytes: 95, LimitBytes: 100})
	ev = drainOne(t, p)
	assert.Equal(t, LevelWarning, ev.Level)
	assert.Contains(t, ev.Message, "90%")
}

func TestMemorySampleWithoutLimitStaysDebug(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	p.OnMemorySample(MemorySignal{UsedBytes: 1 << 30, TotalBytes: 1 << 31})

	ev := drainOne(t, p)
	assert.Equal(t, LevelDebug, ev.Level)
	assert.Nil(t, ev.Context["usage_ratio"])
}

func TestInteractionTextTruncated(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	long := strings.Repeat("x", 200)
	p.OnInteraction(InteractionSignal{Element: "button", Text: long})

	ev := drainOne(t, p)
	assert.Equal(t, LevelDebug, ev.Level)
	assert.Equal(t, CategoryUserAction, ev.Category)
	text, ok := ev.Context["text"].(string)
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", 80)+"...", text)
}

func TestVisibilityVisibleFlushesBacklog(t *testing.T) {
	p, ft := newTestPipeline(t, nil)

	p.LogInfo("queued while hidden", nil, CategoryGeneral)
	require.Zero(t, ft.sendCount())

	p.OnVisibilityChange(true)

	require.Eventually(t, func() bool { return ft.sendCount() == 1 }, time.Second, 5*time.Millisecond)
	batch := ft.batch(0)
	// The backlog plus the visibility event itself.
	require.Len(t, batch, 2)
	assert.Equal(t, "queued while hidden", batch[0].Message)
}

func TestVisibilityHiddenDoesNotFlush(t *testing.T) {
	p, ft := newTestPipeline(t, nil)

	p.OnVisibilityChange(false)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, ft.sendCount())
	assert.Equal(t, 1, p.BufferSize())
}

func TestConnectivityTransitions(t *testing.T) {
	p, ft := newTestPipeline(t, nil)

	p.OnConnectivityChange(false)
	ev := drainOne(t, p)
	assert.Equal(t, LevelWarning, ev.Level)
	assert.Equal(t, CategoryNetwork, ev.Category)

	p.OnConnectivityChange(true)
	require.Eventually(t, func() bool { return ft.sendCount() == 1 }, time.Second, 5*time.Millisecond)
}

// --- interceptor ---

func TestInterceptorRecordsOutboundCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, nil)
	client := &http.Client{}
	p.InstrumentHTTPClient(client)

	resp, err := client.Get(srv.URL + "/v1/chat")
	require.NoError(t, err)
	resp.Body.Close()

	ev := drainOne(t, p)
	assert.Equal(t, LevelWarning, ev.Level)
	assert.Equal(t, CategoryNetwork, ev.Category)
	assert.Equal(t, 502, ev.Context["status"])
	assert.Contains(t, ev.Context["url"], srv.URL)
}

func TestInterceptorSkipsTransportCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, _ := newTestPipeline(t, nil)
	client := &http.Client{}
	p.InstrumentHTTPClient(client)

	req, err := http.NewRequestWithContext(markTransportCall(context.Background()), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Zero(t, p.BufferSize())
}

func TestInterceptorSkipsCollectorRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep, err := ParseEndpoint(srv.URL)
	require.NoError(t, err)

	p, _ := newTestPipeline(t, nil)
	p.endpoint = ep

	client := &http.Client{}
	p.InstrumentHTTPClient(client)

	resp, err := client.Post(srv.URL+"/logs", "application/json", strings.NewReader("[]"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Zero(t, p.BufferSize())
}
