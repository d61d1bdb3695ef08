package sellerapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxResponseBytes = 8 << 20

// Request is one call to the seller API.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RawResponse is the undecoded answer to a Request.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends requests to the provider. Timeouts are the transport's
// responsibility.
type Transport interface {
	Send(ctx context.Context, req *Request) (*RawResponse, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*RawResponse, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return f(ctx, req)
}

// HTTPTransport sends requests with an *http.Client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client. A nil client uses http.DefaultClient.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}
