// Package httpjson is the shared JSON-over-HTTP transport used by the
// settlement, analyzer and notify adapters. Idempotent requests that fail
// with a transport error, 429 or 5xx are retried with exponential backoff.
// POST is sent once unless the caller passes Idempotent.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// maxErrorBody caps how much of a failed response is kept on StatusError.
	maxErrorBody = 2048

	// MaxResponseBody caps a successful response body.
	MaxResponseBody = 4 << 20
)

// ErrResponseTooLarge is returned when a 2xx body exceeds MaxResponseBody.
var ErrResponseTooLarge = errors.New("httpjson: response body too large")

// CallOption adjusts a single request.
type CallOption func(*callOptions)

type callOptions struct {
	idempotent bool
}

// Idempotent marks a request as safe to resend, enabling retries for
// methods such as POST that are not idempotent by definition.
func Idempotent() CallOption {
	return func(o *callOptions) { o.idempotent = true }
}

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// Config holds configuration for a Client.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	// Headers are sent on every request.
	Headers map[string]string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// MaxTries bounds attempts per request, including the first. Defaults to 3.
	MaxTries uint

	// InitialInterval is the first retry delay. Defaults to 200ms.
	InitialInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client sends JSON requests and decodes JSON responses.
type Client struct {
	baseURL         string
	headers         map[string]string
	httpClient      *http.Client
	maxTries        uint
	initialInterval time.Duration
	logger          *slog.Logger
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxTries := cfg.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}
	interval := cfg.InitialInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		headers:         cfg.Headers,
		httpClient:      httpClient,
		maxTries:        maxTries,
		initialInterval: interval,
		logger:          logger,
	}
}

// Do sends body (if non-nil) as JSON to path and decodes the response into
// out (if non-nil). path may be an absolute URL.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...CallOption) error {
	raw, err := c.DoRaw(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("httpjson: decode %s %s: %w", method, path, err)
	}
	return nil
}

// DoRaw is like Do but returns the undecoded response body.
func (c *Client) DoRaw(ctx context.Context, method, path string, body any, opts ...CallOption) (json.RawMessage, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpjson: encode request: %w", err)
		}
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}

	maxTries := c.maxTries
	if !o.idempotent && !idempotentMethod(method) {
		maxTries = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		raw, err := c.once(ctx, method, url, encoded)
		if err == nil {
			return raw, nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		c.logger.Debug("http request failed, retrying",
			"method", method,
			"url", url,
			"attempt", attempt,
			"error", err,
		)
		return nil, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
}

func (c *Client) once(ctx context.Context, method, url string, encoded []byte) (json.RawMessage, error) {
	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("httpjson: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("httpjson: read response: %w", err)
	}
	if len(data) > MaxResponseBody {
		return nil, fmt.Errorf("%w: %s %s", ErrResponseTooLarge, method, url)
	}
	return json.RawMessage(data), nil
}
