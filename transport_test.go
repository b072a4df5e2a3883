package telemetry

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedRequest struct {
	header http.Header
	body   []byte
}

// collectorStub answers with a fixed status and records every request.
type collectorStub struct {
	mu       sync.Mutex
	status   int
	header   http.Header
	requests []recordedRequest
}

func (c *collectorStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.requests = append(c.requests, recordedRequest{header: r.Header.Clone(), body: body})
	c.mu.Unlock()
	for k, vs := range c.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(c.status)
}

func (c *collectorStub) last(t *testing.T) recordedRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.requests)
	return c.requests[len(c.requests)-1]
}

func newTestTransport(t *testing.T, stub *collectorStub, compression bool) (*HTTPTransport, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := &TransportConfig{
		Timeout:     5 * time.Second,
		Compression: compression,
		SSLVerify:   true,
	}
	tr, err := NewHTTPTransport(cfg, srv.URL, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, srv
}

func TestTransportDeliversCompressedBatch(t *testing.T) {
	stub := &collectorStub{status: http.StatusAccepted}
	tr, _ := newTestTransport(t, stub, true)

	events := makeEvents(2)
	res := tr.Send(context.Background(), events, true)

	require.True(t, res.Success)
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	req := stub.last(t)
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "gzip", req.header.Get("Content-Encoding"))
	assert.Equal(t, clientIdentifier, req.header.Get("User-Agent"))
	assert.Equal(t, clientIdentifier, req.header.Get("X-Telemetry-Source"))
	assert.Equal(t, "2", req.header.Get("X-Telemetry-Batch-Size"))
	assert.Equal(t, "1", req.header.Get("X-Telemetry-Critical"))

	gz, err := gzip.NewReader(bytes.NewReader(req.body))
	require.NoError(t, err)
	payload, err := io.ReadAll(gz)
	require.NoError(t, err)

	var decoded []Event
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, events[0].Message, decoded[0].Message)
	assert.Equal(t, events[0].SessionID, decoded[0].SessionID)
}

func TestTransportPlainJSONWithoutCompression(t *testing.T) {
	stub := &collectorStub{status: http.StatusOK}
	tr, _ := newTestTransport(t, stub, false)

	res := tr.Send(context.Background(), makeEvents(1), false)
	require.True(t, res.Success)

	req := stub.last(t)
	assert.Empty(t, req.header.Get("Content-Encoding"))
	assert.Equal(t, "0", req.header.Get("X-Telemetry-Critical"))

	var decoded []Event
	require.NoError(t, json.Unmarshal(req.body, &decoded))
	assert.Len(t, decoded, 1)
}

func TestTransportServerErrorIsFailure(t *testing.T) {
	stub := &collectorStub{status: http.StatusInternalServerError}
	tr, _ := newTestTransport(t, stub, true)

	res := tr.Send(context.Background(), makeEvents(1), false)

	assert.False(t, res.Success)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.False(t, res.RateLimited)
	assert.Contains(t, res.Error, "HTTP 500")
}

func TestTransportRateLimitOpensWindow(t *testing.T) {
	stub := &collectorStub{
		status: http.StatusTooManyRequests,
		header: http.Header{"Retry-After": []string{"30"}},
	}
	tr, _ := newTestTransport(t, stub, true)

	res := tr.Send(context.Background(), makeEvents(1), false)

	assert.False(t, res.Success)
	assert.True(t, res.RateLimited)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.True(t, tr.Limiter().IsLimited())
	until := tr.Limiter().DisabledUntil()
	assert.WithinDuration(t, time.Now().Add(30*time.Second), until, 2*time.Second)
}

func TestTransportConnectionErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := &TransportConfig{Timeout: time.Second, Compression: true, SSLVerify: true}
	tr, err := NewHTTPTransport(cfg, url, zaptest.NewLogger(t))
	require.NoError(t, err)

	res := tr.Send(context.Background(), makeEvents(1), false)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, res.StatusCode)
}

func TestTransportRejectsBadEndpoint(t *testing.T) {
	cfg := &TransportConfig{Timeout: time.Second}
	_, err := NewHTTPTransport(cfg, "ftp://nope", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRateLimiterRetryAfterFormats(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "seconds", header: "15", want: 15 * time.Second},
		{name: "http date", header: time.Now().Add(45 * time.Second).UTC().Format(time.RFC1123), want: 45 * time.Second},
		{name: "garbage falls back", header: "soon", want: 60 * time.Second},
		{name: "missing falls back", header: "", want: 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := newRateLimiter(zaptest.NewLogger(t))
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			rl.HandleRetryAfter(h)

			require.True(t, rl.IsLimited())
			assert.WithinDuration(t, time.Now().Add(tt.want), rl.DisabledUntil(), 2*time.Second)

			rl.Clear()
			assert.False(t, rl.IsLimited())
			assert.True(t, rl.DisabledUntil().IsZero())
		})
	}
}
