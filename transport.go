package telemetry

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const clientIdentifier = "client-telemetry/1.0.0"

// Transport performs the network send of a batch. The outcome is binary:
// acknowledged or failed. Non-2xx responses, timeouts and transport-level
// errors are all failures alike. Implementations must not mutate the batch.
type Transport interface {
	Send(ctx context.Context, batch []Event, critical bool) *SendResult
}

// transportCallKey marks requests issued by the transport itself so the
// network interceptor does not observe them. Without the exclusion a failed
// delivery would produce a network event whose delivery produces another.
type transportCallKey struct{}

func markTransportCall(ctx context.Context) context.Context {
	return context.WithValue(ctx, transportCallKey{}, true)
}

func isTransportCall(ctx context.Context) bool {
	v, _ := ctx.Value(transportCallKey{}).(bool)
	return v
}

// HTTPTransport posts event batches to the collector ingestion endpoint
type HTTPTransport struct {
	config   *TransportConfig
	endpoint *Endpoint
	client   *http.Client
	logger   *zap.Logger
	limiter  *rateLimiter
}

// NewHTTPTransport creates a new HTTP transport for the given collector URL
func NewHTTPTransport(config *TransportConfig, endpointStr string, logger *zap.Logger) (*HTTPTransport, error) {
	endpoint, err := ParseEndpoint(endpointStr)
	if err != nil {
		return nil, fmt.Errorf("invalid collector endpoint: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !config.SSLVerify,
		},
	}

	if config.Proxy != "" {
		proxyURL, err := url.Parse(config.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}

	return &HTTPTransport{
		config:   config,
		endpoint: endpoint,
		client:   client,
		logger:   logger,
		limiter:  newRateLimiter(logger),
	}, nil
}

// Send delivers one batch. Success is any 2xx response.
func (t *HTTPTransport) Send(ctx context.Context, batch []Event, critical bool) *SendResult {
	req, err := t.createRequest(ctx, batch, critical)
	if err != nil {
		t.logger.Error("Failed to create batch request", zap.Error(err))
		return &SendResult{Success: false, Error: err.Error()}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("Batch request failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return &SendResult{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		t.logger.Debug("Failed to read response body", zap.Error(err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		t.limiter.HandleRetryAfter(resp.Header)
		return &SendResult{
			Success:     false,
			StatusCode:  resp.StatusCode,
			RateLimited: true,
			Error:       "rate limited by collector",
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.logger.Debug("Batch delivered",
			zap.Int("batch_size", len(batch)),
			zap.Int("status_code", resp.StatusCode))
		return &SendResult{Success: true, Delivered: len(batch), StatusCode: resp.StatusCode}
	}

	errorMsg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))
	t.logger.Warn("Batch rejected by collector",
		zap.Int("batch_size", len(batch)),
		zap.Int("status_code", resp.StatusCode))

	return &SendResult{Success: false, StatusCode: resp.StatusCode, Error: errorMsg}
}

// createRequest builds the batch POST without mutating the batch.
func (t *HTTPTransport) createRequest(ctx context.Context, batch []Event, critical bool) (*http.Request, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize batch: %w", err)
	}

	var body io.Reader
	var contentEncoding string

	if t.config.Compression {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(payload); err != nil {
			return nil, fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		body = &buf
		contentEncoding = "gzip"
	} else {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(markTransportCall(ctx), http.MethodPost, t.endpoint.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", clientIdentifier)
	req.Header.Set("X-Telemetry-Source", clientIdentifier)
	req.Header.Set("X-Telemetry-Batch-Size", strconv.Itoa(len(batch)))
	if critical {
		req.Header.Set("X-Telemetry-Critical", "1")
	} else {
		req.Header.Set("X-Telemetry-Critical", "0")
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}

	return req, nil
}

// Limiter returns the rate limiter fed by collector responses
func (t *HTTPTransport) Limiter() *rateLimiter {
	return t.limiter
}

// IngestionURL returns the resolved ingestion URL
func (t *HTTPTransport) IngestionURL() string {
	return t.endpoint.URL
}

// Close closes the transport
func (t *HTTPTransport) Close() error {
	if t.client != nil {
		t.client.CloseIdleConnections()
	}
	return nil
}

// noopTransport acknowledges batches without sending them. It backs dry-run
// mode when no collector endpoint is configured.
type noopTransport struct {
	logger *zap.Logger
}

func (n *noopTransport) Send(_ context.Context, batch []Event, critical bool) *SendResult {
	n.logger.Info("Dry-run: would deliver batch",
		zap.Int("batch_size", len(batch)),
		zap.Bool("critical", critical))
	return &SendResult{Success: true, Delivered: len(batch)}
}
