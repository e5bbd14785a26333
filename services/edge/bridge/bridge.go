// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge performs server-side fetches against the backend on
// behalf of an inbound browser request, forwarding its session cookie.
package bridge

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

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/pkg/envelope"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("fieldops.edge.bridge")

// CookieReader reads cookies of the inbound request. *http.Request
// satisfies it.
type CookieReader interface {
	Cookie(name string) (*http.Cookie, error)
}

// Options describes one fetch. The zero value is a GET with no body.
type Options struct {
	Method string
	Header http.Header
	// Body is encoded as JSON when non-nil.
	Body any
}

// Config configures a Bridge.
type Config struct {
	BaseURL    string
	CookieName string
	// Timeout of 0 leaves the transport default in place.
	Timeout time.Duration
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Bridge is safe for concurrent use; many fetches may run in parallel for
// one inbound request.
type Bridge struct {
	baseURL    string
	cookieName string
	http       *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.CookieName == "" {
		cfg.CookieName = "access_token"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cookieName: cfg.CookieName,
		http:       &http.Client{Timeout: cfg.Timeout},
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Fetch calls path on the backend with the caller's session cookie.
//
// # Description
//
// When the inbound request carries the session cookie, the outbound
// request gets "Cookie: <name>=<value>", appended to any Cookie header the
// caller supplied. Other caller headers are copied as-is.
//
// # Outputs
//
//   - json.RawMessage: The unwrapped payload of a 2xx response.
//   - error: *apierr.Error. KindUnauthorized for 401, KindUpstreamHTTP
//     (path and status text in the message) for other non-2xx,
//     KindBackendRejected for {success:false}, transport kinds otherwise.
//
// # Limitations
//
//   - Never redirects. Route guards branch on apierr.IsUnauthorized.
func (b *Bridge) Fetch(ctx context.Context, in CookieReader, path string, opts Options) (json.RawMessage, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, span := tracer.Start(ctx, "Bridge.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("fieldops.backend_path", path),
	)

	data, err := b.fetch(ctx, in, method, path, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.metrics.RecordOutboundError(observability.SourceBridge, err)
		b.logger.Warn("bridge fetch failed",
			"path", path,
			"kind", apierr.KindOf(err).String(),
			"error", err)
		return nil, err
	}
	return data, nil
}

func (b *Bridge) fetch(ctx context.Context, in CookieReader, method, path string, opts Options) (json.RawMessage, error) {
	var body io.Reader
	if opts.Body != nil {
		raw, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, apierr.New(apierr.KindUnknown, fmt.Sprintf("failed to encode request body: %v", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, apierr.New(apierr.KindUnknown, err.Error())
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	b.attachCookie(in, req.Header)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, apierr.FromTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.FromTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apierr.Unauthorized(path, "")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apierr.UpstreamHTTP(path, resp.StatusCode, http.StatusText(resp.StatusCode), "")
	}

	if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
		return nil, apierr.New(apierr.KindUnknown, fmt.Sprintf("invalid JSON response from %s", path))
	}
	return envelope.Unwrap(raw, resp.StatusCode)
}

func (b *Bridge) attachCookie(in CookieReader, h http.Header) {
	if in == nil {
		return
	}
	ck, err := in.Cookie(b.cookieName)
	if err != nil || ck.Value == "" {
		return
	}
	pair := b.cookieName + "=" + ck.Value
	if existing := h.Get("Cookie"); existing != "" {
		h.Set("Cookie", existing+"; "+pair)
		return
	}
	h.Set("Cookie", pair)
}

// FetchJSON fetches path and decodes the payload into T.
func FetchJSON[T any](ctx context.Context, b *Bridge, in CookieReader, path string, opts Options) (T, error) {
	var zero T
	data, err := b.Fetch(ctx, in, path, opts)
	if err != nil {
		return zero, err
	}
	return envelope.Decode[T](data)
}
