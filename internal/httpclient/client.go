// Package httpclient is the traced JSON client used for calls between the
// fulfillment services.
package httpclient

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

	"fulfillment/internal/apperr"
	"fulfillment/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client calls a peer service. Every call is bounded by timeout, and
// transport failures, timeouts and 5xx responses surface as
// apperr.ErrDependencyUnavailable.
type Client struct {
	baseURL    string
	timeout    time.Duration
	HTTPClient *http.Client
}

// ErrorBody is the error payload every service responds with.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NewClient creates a client for the service at baseURL. The http.Client has
// no Timeout of its own; the per-call context carries the deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

// Do sends in as JSON (when non-nil) and decodes a 2xx body into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	target := c.baseURL + path
	parsed, err := url.Parse(target)
	if err != nil {
		return err
	}

	ctx, span := util.GetTracer().Start(ctx, fmt.Sprintf("%s %s", method, parsed.Path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", method),
	)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	util.InjectHTTP(ctx, req.Header)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s %s: %w: %v", method, path, apperr.ErrDependencyUnavailable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			span.RecordError(err)
			return fmt.Errorf("%s %s: %w: undecodable response: %v", method, path, apperr.ErrDependencyUnavailable, err)
		}
		return nil
	}

	err = statusError(resp)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("%s %s: %w", method, path, err)
}

// statusError rebuilds the typed error from a non-2xx response.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var eb ErrorBody
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Error
	if msg == "" {
		msg = resp.Status
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", apperr.ErrDependencyUnavailable, msg)
	}
	if eb.Code != "" && eb.Code != apperr.CodeInternal {
		return apperr.FromCode(eb.Code, msg)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", apperr.ErrConflict, msg)
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", apperr.ErrDependencyUnavailable, msg)
	default:
		return fmt.Errorf("%w: %s", apperr.ErrValidation, msg)
	}
}
