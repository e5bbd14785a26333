// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware of the edge service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► X-Request-ID header, request-scoped slog logger
//	   │
//	   ▼
//	PropagateToken ──► caller's bearer or session cookie into the
//	   │               outbound client context
//	   ▼
//	RequireSession / RedirectWithoutSession (guarded routes only)
//	   │
//	   ▼
//	Handler
//
// Sessions are not validated here. The backend owns the session and
// reports expiry with 401, which handlers turn into a login redirect.
// The guards only reject requests that carry no credential at all.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/FieldOps/pkg/envelope"
	"github.com/AleutianAI/FieldOps/services/edge/client"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// LoginPath is the target of guard redirects.
const LoginPath = "/login"

// =============================================================================
// Context Keys
// =============================================================================

const (
	requestIDKey = "fieldops_request_id"
	loggerKey    = "fieldops_logger"
)

type loggerCtxKey struct{}

// =============================================================================
// Request ID
// =============================================================================

// RequestID assigns every request an id and a logger that carries it.
//
// # Description
//
// An inbound X-Request-ID is reused when it parses as a UUID, otherwise a
// new v4 UUID is generated. The id is echoed in the response header. The
// logger is stored both in the gin context and in the request context so
// code below the handler layer can reach it via FromContext.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		logger := base.With("request_id", id)
		c.Set(requestIDKey, id)
		c.Set(loggerKey, logger)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), loggerCtxKey{}, logger))

		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger returns the request-scoped logger, or slog.Default when
// RequestID did not run.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

// FromContext returns the logger stored by RequestID, or fallback.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*slog.Logger); ok {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// =============================================================================
// Session Credentials
// =============================================================================

// SessionToken returns the caller's credential: the bearer token when an
// Authorization header is present, else the value of the session cookie.
func SessionToken(c *gin.Context, cookieName string) string {
	if t := extractBearerToken(c); t != "" {
		return t
	}
	if cookieName == "" {
		return ""
	}
	v, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return v
}

// PropagateToken attaches the caller's credential to the request context
// so outbound client calls authenticate as the caller.
func PropagateToken(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t := SessionToken(c, cookieName); t != "" {
			c.Request = c.Request.WithContext(client.ContextWithToken(c.Request.Context(), t))
		}
		c.Next()
	}
}

// RequireSession rejects requests without a credential with 401 and the
// failure envelope. Used on JSON routes.
func RequireSession(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if SessionToken(c, cookieName) == "" {
			Logger(c).Info("request without session rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, envelope.Fail("Unauthorized"))
			return
		}
		c.Next()
	}
}

// RedirectWithoutSession sends requests without a credential to the
// login page. Used on page routes.
func RedirectWithoutSession(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if SessionToken(c, cookieName) == "" {
			RedirectToLogin(c)
			return
		}
		c.Next()
	}
}

// RedirectToLogin aborts with a 302 to LoginPath, keeping the original
// path in the "next" query parameter.
func RedirectToLogin(c *gin.Context) {
	target := LoginPath
	if p := c.Request.URL.RequestURI(); p != "" && p != LoginPath {
		target += "?next=" + url.QueryEscape(p)
	}
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken parses "Authorization: Bearer <token>". The scheme
// is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
