// Package transport is the HTTP plumbing shared by every workbench component.
//
// It attaches the bearer credential, encodes JSON bodies, unwraps the optional
// {"data": ...} envelope and turns non-2xx responses into *model.Error values.
// Network failures surface as model.KindTransport; nothing here retries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ashita-ai/workbench/internal/auth"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/ratelimit"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the workbench backend (e.g. "http://localhost:3010").
	BaseURL string

	// Tokens supplies the bearer credential for every request.
	Tokens auth.TokenSource

	// HTTPClient is an optional custom HTTP client. If nil, a client with
	// Timeout, the rate limiter and otel instrumentation is built.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration

	// Limiter throttles outbound requests. Nil disables throttling.
	Limiter ratelimit.Limiter

	Logger *slog.Logger
}

// Client performs authenticated JSON requests against the backend.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Client. Returns an error if BaseURL or Tokens is missing.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("transport: Tokens is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
		if cfg.Limiter != nil {
			limiter = cfg.Limiter
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(ratelimit.Transport(limiter, nil, http.DefaultTransport)),
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		client:  httpClient,
		logger:  logger,
	}, nil
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying client, e.g. for streaming requests.
func (c *Client) HTTPClient() *http.Client { return c.client }

// Request describes one call. Body is JSON-encoded when non-nil.
type Request struct {
	Method string
	Path   string
	Body   any
	Header http.Header
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Send performs req and reads the whole body. Only transport-level failures
// return an error; HTTP error statuses are left to the caller to classify.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("transport: create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	if err := c.Authorize(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &model.Error{
			Kind:    model.KindTransport,
			Message: fmt.Sprintf("%s %s", req.Method, req.Path),
			Err:     err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.Error{
			Kind:       model.KindTransport,
			StatusCode: resp.StatusCode,
			Message:    "read response body",
			Err:        err,
		}
	}

	c.logger.Debug("workbench request",
		"method", req.Method, "path", req.Path, "status", resp.StatusCode)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// Authorize sets the bearer header on an outbound request.
func (c *Client) Authorize(ctx context.Context, r *http.Request) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &model.Error{Kind: model.KindUnauthorized, Message: "obtain credential", Err: err}
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// JSON sends a request and decodes a 2xx body into dest (which may be nil).
// Error statuses map through ErrorFromResponse with KindRequestFailed as fallback.
func (c *Client) JSON(ctx context.Context, method, path string, body, dest any) error {
	resp, err := c.Send(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return ErrorFromResponse(resp, model.KindRequestFailed)
	}
	return resp.Decode(dest)
}

// apiEnvelope is the optional {"data": ...} response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the backend's structured error body.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Decode unmarshals the body into dest, unwrapping a data envelope if present.
func (r *Response) Decode(dest any) error {
	if dest == nil || r.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}

	trimmed := bytes.TrimSpace(r.Body)
	if trimmed[0] == '{' {
		var envelope apiEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
			trimmed = envelope.Data
		}
	}

	if err := json.Unmarshal(trimmed, dest); err != nil {
		return &model.Error{
			Kind:       model.KindContractViolation,
			StatusCode: r.StatusCode,
			Message:    "decode response body",
			Body:       model.TruncateBody(r.Body),
			Err:        err,
		}
	}
	return nil
}

// ErrorFromResponse classifies a non-2xx response. 401, 403, 404 and 409
// get their own kinds; everything else becomes fallback.
func ErrorFromResponse(resp *Response, fallback model.ErrorKind) *model.Error {
	kind := fallback
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = model.KindUnauthorized
	case http.StatusForbidden:
		kind = model.KindForbidden
	case http.StatusNotFound:
		kind = model.KindNotFound
	case http.StatusConflict:
		kind = model.KindConflict
	}
	return model.NewError(kind, resp.StatusCode, errorMessage(resp), resp.Body)
}

func errorMessage(resp *Response) string {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(resp.Body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return http.StatusText(resp.StatusCode)
}
