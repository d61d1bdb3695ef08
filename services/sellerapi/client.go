// Package sellerapi talks to the marketplace seller API: supply order listing
// and per-order timeslot retrieval with client side rate limiting.
package sellerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"slotwatch/pkg/metrics"
	"slotwatch/services/timeslots"
)

const (
	// DefaultBaseURL is the production seller API.
	DefaultBaseURL = "https://api-seller.ozon.ru"
	// DefaultRPS is used when a batch is started with a non-positive rate.
	DefaultRPS = 5
	// MaxOrdersPerRequest is the provider side page size limit.
	MaxOrdersPerRequest = 100

	endpointOrderList = "/v2/supply-order/list"
	endpointTimeslots = "/v1/supply-order/timeslot/get"
)

// Client is safe for concurrent use. Credentials can be replaced at any time
// and apply to requests started afterwards.
type Client struct {
	transport Transport
	baseURL   string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	mu       sync.RWMutex
	apiKey   string
	clientID string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer("slotwatch/sellerapi")
		}
	}
}

// New returns a client without credentials.
func New(t Transport, opts ...Option) (*Client, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: transport is required", timeslots.ErrInvalidArgument)
	}
	c := &Client{
		transport: t,
		baseURL:   DefaultBaseURL,
		logger:    zerolog.Nop(),
		tracer:    otel.Tracer("slotwatch/sellerapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetAPIKey sets the Api-Key credential.
func (c *Client) SetAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: api key is required", timeslots.ErrInvalidArgument)
	}
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
	return nil
}

// SetClientID sets the Client-Id credential.
func (c *Client) SetClientID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: client id is required", timeslots.ErrInvalidArgument)
	}
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
	return nil
}

func (c *Client) credentials() (string, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.apiKey == "" || c.clientID == "" {
		return "", "", timeslots.ErrNotConfigured
	}
	return c.apiKey, c.clientID, nil
}

// post sends payload to endpoint and decodes the answer into out. The request
// keeps running if ctx is cancelled mid-flight. A non-2xx answer that decodes
// without a provider error code is reported through out's Code field; one
// that does not decode at all becomes an *UpstreamError.
func (c *Client) post(ctx context.Context, endpoint string, payload, out any, attrs ...attribute.KeyValue) error {
	apiKey, clientID, err := c.credentials()
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	ctx, span := c.tracer.Start(context.WithoutCancel(ctx), "sellerapi "+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("sellerapi.endpoint", endpoint))...),
	)
	defer span.End()

	header := http.Header{}
	header.Set("Client-Id", clientID)
	header.Set("Api-Key", apiKey)
	header.Set("Content-Type", "application/json")

	start := time.Now()
	raw, err := c.transport.Send(ctx, &Request{
		Method: http.MethodPost,
		URL:    c.baseURL + endpoint,
		Header: header,
		Body:   body,
	})
	if err == nil && raw == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		c.metrics.ObserveRequest(endpoint, "transport_error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return fmt.Errorf("post %s: %w: %w", endpoint, timeslots.ErrTransport, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", raw.StatusCode))

	if err := json.Unmarshal(raw.Body, out); err != nil {
		if !success(raw.StatusCode) {
			c.metrics.ObserveRequest(endpoint, "upstream_error", time.Since(start))
			span.SetStatus(codes.Error, http.StatusText(raw.StatusCode))
			return &timeslots.UpstreamError{Code: raw.StatusCode, Message: statusMessage(raw)}
		}
		c.metrics.ObserveRequest(endpoint, "transport_error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		return fmt.Errorf("decode %s response: %w: %w", endpoint, timeslots.ErrTransport, err)
	}

	code := applyStatus(out, raw)
	outcome := "ok"
	if code != 0 {
		outcome = "upstream_error"
		span.SetStatus(codes.Error, fmt.Sprintf("provider code %d", code))
	}
	c.metrics.ObserveRequest(endpoint, outcome, time.Since(start))

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", raw.StatusCode).
		Int("code", code).
		Dur("duration", time.Since(start)).
		Msg("seller api request")
	return nil
}

// applyStatus fills in the provider error fields of out from the HTTP status
// when the body did not carry its own code, and returns the resulting code.
func applyStatus(out any, raw *RawResponse) int {
	switch v := out.(type) {
	case *timeslots.Response:
		if v.Code == 0 && !success(raw.StatusCode) {
			v.Code, v.Message = raw.StatusCode, http.StatusText(raw.StatusCode)
		}
		return v.Code
	case *OrderList:
		if v.Code == 0 && !success(raw.StatusCode) {
			v.Code, v.Message = raw.StatusCode, http.StatusText(raw.StatusCode)
		}
		return v.Code
	}
	return 0
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func statusMessage(raw *RawResponse) string {
	msg := strings.TrimSpace(string(raw.Body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(raw.StatusCode)
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
