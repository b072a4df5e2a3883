package telemetry

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoint represents a resolved collector ingestion target
type Endpoint struct {
	Scheme string
	Host   string
	Port   string
	// URL is the full ingestion URL the transport posts batches to
	URL string
}

// ingestionPath is the collector path accepting event batches.
const ingestionPath = "/logs"

// ParseEndpoint parses a collector base URL into an ingestion endpoint.
// A bare base URL gets the ingestion path appended; a URL already ending in
// it is kept as-is.
func ParseEndpoint(raw string) (*Endpoint, error) {
	if raw == "" {
		return nil, fmt.Errorf("endpoint is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint scheme: %s", u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("endpoint missing host")
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(path, ingestionPath) {
		path += ingestionPath
	}

	ingestionURL := fmt.Sprintf("%s://%s:%s%s", u.Scheme, u.Hostname(), port, path)

	return &Endpoint{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		URL:    ingestionURL,
	}, nil
}
