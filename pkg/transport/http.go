// Package transport builds the outbound HTTP client used against the seller
// API.
package transport

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

const defaultTimeout = 30 * time.Second

// Options controls the client built by NewHTTPClient.
type Options struct {
	// Timeout bounds a whole request. Zero means 30s.
	Timeout time.Duration
	// DisableHTTP2 keeps the client on HTTP/1.1.
	DisableHTTP2 bool
}

// NewHTTPClient returns a client that negotiates HTTP/2 over TLS and records a
// client span for every request.
func NewHTTPClient(opts Options) (*http.Client, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport %T", http.DefaultTransport)
	}
	rt := base.Clone()
	rt.MaxIdleConnsPerHost = 4

	if !opts.DisableHTTP2 {
		if err := http2.ConfigureTransport(rt); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(rt),
		Timeout:   timeout,
	}, nil
}
