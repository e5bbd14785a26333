// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proxy implements the catch-all /api/*path reverse proxy.
//
// # Description
//
// Every inbound request produces exactly one outbound request to
// {BaseURL}/{path}?{raw query}. Only the allowlisted headers cross the
// boundary. Request bodies are re-serialized from parsed JSON; the
// response is relayed byte-for-byte with its status.
//
// # Limitations
//
//   - No retries and no request coalescing.
//   - Responses are buffered in memory before relaying.
package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/pkg/envelope"
	"github.com/AleutianAI/FieldOps/services/edge/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

var tracer = otel.Tracer("fieldops.edge.proxy")

// forwardedHeaders is the complete set of inbound headers sent upstream.
var forwardedHeaders = []string{"Authorization", "Content-Type", "Accept"}

// Methods lists the methods routed to the proxy.
var Methods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// Config configures the proxy handler.
type Config struct {
	BaseURL string
	// Timeout of 0 leaves the transport default in place.
	Timeout time.Duration
	Metrics *observability.Metrics
	Logger  *slog.Logger
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// Handler returns the gin handler for /api/*path.
//
// # Description
//
// The route parameter must be named "path". On a forwarding failure
// (target unreachable, request could not be built) it answers 500 with
// {success:false, error:{message}}. Upstream error statuses are relayed
// unchanged.
func Handler(cfg Config) gin.HandlerFunc {
	base := strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		ctx, span := tracer.Start(c.Request.Context(), "Proxy.Forward")
		defer span.End()

		target := base + "/" + strings.TrimLeft(c.Param("path"), "/")
		if raw := c.Request.URL.RawQuery; raw != "" {
			target += "?" + raw
		}
		span.SetAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", target),
		)

		fail := func(err error) {
			perr := apierr.ProxyInternal(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			cfg.Metrics.RecordProxy(method, 0, time.Since(start))
			cfg.Metrics.RecordOutboundError(observability.SourceProxy, perr)
			logger.Error("proxy forwarding failed", "method", method, "target", target, "error", err)
			c.JSON(http.StatusInternalServerError, envelope.Fail(perr.Error()))
		}

		var body io.Reader
		if hasBody(method) {
			if raw, ok := reencode(c.Request.Body); ok {
				body = bytes.NewReader(raw)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			fail(err)
			return
		}
		for _, h := range forwardedHeaders {
			if v := c.GetHeader(h); v != "" {
				req.Header.Set(h, v)
			}
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := hc.Do(req)
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			fail(err)
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		cfg.Metrics.RecordProxy(method, resp.StatusCode, time.Since(start))
		c.Data(resp.StatusCode, contentType, payload)
	}
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// reencode parses r as a single JSON value and serializes it again.
// Numbers keep their literal form. ok is false for an empty, non-JSON or
// multi-value body.
func reencode(r io.Reader) (out []byte, ok bool) {
	if r == nil {
		return nil, false
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return raw, true
}
