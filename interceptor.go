package telemetry

import (
	"net/http"
	"strings"
	"time"
)

// instrumentedRoundTripper observes outbound HTTP calls and reports them as
// network telemetry. It is the explicit interceptor registration point:
// nothing global is patched, and the pipeline's own delivery calls are
// excluded by construction so delivery can never instrument itself.
type instrumentedRoundTripper struct {
	base     http.RoundTripper
	pipeline *Pipeline
}

// InstrumentRoundTripper wraps a round tripper so every call through it is
// reported as a network event. A nil base means http.DefaultTransport.
func (p *Pipeline) InstrumentRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &instrumentedRoundTripper{base: base, pipeline: p}
}

// InstrumentHTTPClient replaces the client's transport with an instrumented
// one.
func (p *Pipeline) InstrumentHTTPClient(client *http.Client) {
	client.Transport = p.InstrumentRoundTripper(client.Transport)
}

func (t *instrumentedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if isTransportCall(req.Context()) || t.pipeline.isCollectorRequest(req) {
		return t.base.RoundTrip(req)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	sig := NetworkSignal{
		URL:        req.URL.Redacted(),
		Method:     req.Method,
		DurationMS: duration,
	}
	if err != nil {
		sig.Error = err.Error()
	} else {
		sig.Status = resp.StatusCode
	}
	t.pipeline.OnNetworkOutcome(sig)

	return resp, err
}

// isCollectorRequest reports whether the request targets the ingestion
// endpoint. Guards custom transports that do not carry the context marker.
func (p *Pipeline) isCollectorRequest(req *http.Request) bool {
	if p.endpoint == nil {
		return false
	}
	return req.URL.Hostname() == p.endpoint.Host && strings.HasSuffix(req.URL.Path, ingestionPath)
}
