// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client is the outbound HTTP client of the edge service.
//
// # Description
//
// A Client is constructed once by the composition root and shared by every
// component that calls the field-operations API on its own behalf. It
//   - joins request paths onto the configured base URL,
//   - attaches a bearer token (per-request context token first, then the
//     configured oauth2.TokenSource),
//   - unwraps the response envelope, and
//   - normalizes every failure into *apierr.Error.
//
// # Thread Safety
//
// A Client is safe for concurrent use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/pkg/envelope"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/oauth2"
)

var tracer = otel.Tracer("fieldops.edge.client")

// DefaultTimeout bounds a call when no WithTimeout option is given.
const DefaultTimeout = 30 * time.Second

// =============================================================================
// Construction
// =============================================================================

// Client calls the backend API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client. Its Timeout is
// preserved as given.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource sets the fallback source of bearer tokens, used when the
// request context carries none.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithMetrics records failures on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for baseURL.
//
// # Inputs
//
//   - baseURL: Backend root, e.g. "http://localhost:8080". A trailing
//     slash is ignored.
//   - opts: Optional settings.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Per-request Token
// =============================================================================

type tokenKey struct{}

// ContextWithToken returns a context carrying a bearer token for calls made
// with it. It takes precedence over the configured TokenSource. An empty
// token leaves ctx unchanged.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token set by ContextWithToken, or "".
func TokenFromContext(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey{}).(string)
	return s
}

// =============================================================================
// Calls
// =============================================================================

// Do performs one call and returns the unwrapped payload.
//
// # Description
//
// Builds the request, attaches auth and trace headers, executes it and
// applies the envelope rules. Errors are always *apierr.Error with the
// message chosen in priority order: backend error.message, top-level
// message, connection refused, timeout, the transport error's own
// message, generic fallback.
//
// # Inputs
//
//   - ctx: Request context. Cancelling it aborts the call.
//   - method: HTTP method.
//   - path: Backend path, e.g. "/v1/teams/1".
//   - query: Optional query parameters (nil for none).
//   - body: Optional value encoded as JSON (nil for none).
//
// # Outputs
//
//   - json.RawMessage: The envelope's data, or the raw body when the
//     backend did not answer with an envelope.
//   - error: *apierr.Error on any failure.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "Client.Do")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("fieldops.backend_path", path),
	)

	data, err := c.do(ctx, method, path, query, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordOutboundError(observability.SourceClient, err)
		c.logger.Warn("backend call failed",
			"method", method,
			"path", path,
			"kind", apierr.KindOf(err).String(),
			"error", err)
		return nil, err
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e := apierr.New(apierr.KindUnknown, fmt.Sprintf("failed to encode request body: %v", err))
			e.Err = err
			return nil, e
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		e := apierr.New(apierr.KindUnknown, err.Error())
		e.Err = err
		return nil, e
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.FromTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.FromTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(path, resp.StatusCode, raw)
	}
	return envelope.Unwrap(raw, resp.StatusCode)
}

// authorize sets the Authorization header. A context token wins over the
// token source.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if tok := TokenFromContext(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
		return nil
	}
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		e := apierr.New(apierr.KindUnauthorized, fmt.Sprintf("failed to obtain access token: %v", err))
		e.Err = err
		return e
	}
	tok.SetAuthHeader(req)
	return nil
}

// statusError builds the error for a non-2xx response.
func statusError(path string, status int, body []byte) *apierr.Error {
	code, msg := envelope.ExtractMessage(body)
	if status == http.StatusUnauthorized {
		return apierr.Unauthorized(path, msg)
	}
	if msg == "" {
		msg = fmt.Sprintf("Request failed with status code %d", status)
	}
	e := apierr.UpstreamHTTP(path, status, http.StatusText(status), msg)
	e.Code = code
	return e
}

// =============================================================================
// Typed Helpers
// =============================================================================

// Get fetches path and decodes the payload into T.
func Get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	return call[T](ctx, c, http.MethodGet, path, query, nil)
}

// Post sends body to path and decodes the payload into T.
func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return call[T](ctx, c, http.MethodPost, path, nil, body)
}

// Put sends body to path and decodes the payload into T.
func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	return call[T](ctx, c, http.MethodPut, path, nil, body)
}

// Delete removes the resource at path. Any payload is discarded.
func Delete(ctx context.Context, c *Client, path string) error {
	_, err := c.Do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var zero T
	data, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		return zero, err
	}
	return envelope.Decode[T](data)
}
