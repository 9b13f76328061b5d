package dune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.dune.com/api"
	DefaultTimeout = 30 * time.Second

	apiKeyHeader = "X-Dune-Api-Key"
)

// Request is a single call against the API, relative to the base URL.
type Request struct {
	Method string
	Path   string
	Body   any
	Query  url.Values
	Accept string
}

// Response is the raw outcome of a call. Any status code is a valid
// Response; interpreting it is the caller's job.
type Response struct {
	StatusCode int
	Body       []byte
}

func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends authenticated requests. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

type TransportConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RoundTripper wraps the underlying HTTP transport, e.g. for
	// instrumentation. Nil uses http.DefaultTransport.
	RoundTripper      http.RoundTripper
	RequestsPerSecond float64
}

type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPTransport(cfg TransportConfig) (*HTTPTransport, error) {
	apiKey, err := validateAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t := &HTTPTransport{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout, Transport: cfg.RoundTripper},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t, nil
}

func (t *HTTPTransport) BaseURL() string { return t.baseURL }

func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	op := req.Method + " " + req.Path
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return Response{}, &TransportError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return Response{}, &TransportError{Op: op, Err: fmt.Errorf("marshal request body: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	endpoint := t.baseURL + req.Path
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return Response{}, &TransportError{Op: op, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set(apiKeyHeader, t.apiKey)
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	return Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// validateAPIKey rejects keys that could not be sent as a header value.
func validateAPIKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return "", fmt.Errorf("%w: api key is empty", ErrInvalidCredential)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: api key contains control characters", ErrInvalidCredential)
		}
	}
	return key, nil
}
