// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/FieldOps/services/edge/client"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// RequestID Tests
// =============================================================================

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	r := gin.New()
	r.Use(RequestID(base))
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = GetRequestID(c)
		Logger(c).Info("hello")
		FromContext(c.Request.Context(), nil).Info("from context")
		c.Status(http.StatusNoContent)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, seen)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("request_id="+id)))
}

func TestRequestID_ReusesValidInboundID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, inbound)
	assert.Equal(t, inbound, serve(r, req).Header().Get(HeaderRequestID))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "../../etc/passwd")
	assert.NotEqual(t, "../../etc/passwd", serve(r, req).Header().Get(HeaderRequestID))
}

func TestLogger_FallsBackToDefault(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Same(t, slog.Default(), Logger(c))
}

// =============================================================================
// Session Tests
// =============================================================================

func TestSessionToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{name: "bearer", header: "Bearer abc123", want: "abc123"},
		{name: "bearer case insensitive", header: "bearer ABC", want: "ABC"},
		{name: "bearer wins over cookie", header: "Bearer hdr", cookie: "ck", want: "hdr"},
		{name: "cookie", cookie: "ck", want: "ck"},
		{name: "basic ignored", header: "Basic abc123", want: ""},
		{name: "nothing", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: "access_token", Value: tt.cookie})
			}
			assert.Equal(t, tt.want, SessionToken(c, "access_token"))
		})
	}
}

func TestRequireSession(t *testing.T) {
	r := gin.New()
	r.GET("/actions/teams", RequireSession("access_token"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/actions/teams", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"error":{"message":"Unauthorized"}}`, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/actions/teams", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestRedirectWithoutSession(t *testing.T) {
	r := gin.New()
	r.GET("/dashboard", RedirectWithoutSession("access_token"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/dashboard?year=2024", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fdashboard%3Fyear%3D2024", w.Header().Get("Location"))
}

func TestPropagateToken(t *testing.T) {
	r := gin.New()
	r.Use(PropagateToken("access_token"))
	var got string
	r.GET("/", func(c *gin.Context) {
		got = client.TokenFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "session-value"})
	serve(r, req)
	assert.Equal(t, "session-value", got)

	got = "unset"
	serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, got)
}
