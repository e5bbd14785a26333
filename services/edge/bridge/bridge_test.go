// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inbound(cookie string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: cookie})
	}
	return r
}

func newBridge(t *testing.T, h http.HandlerFunc) *Bridge {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL})
}

func TestFetch_ForwardsCookieAndMergesHeaders(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "theme=dark; access_token=abc123", r.Header.Get("Cookie"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		io.WriteString(w, `{"success":true,"data":{"total":4}}`)
	})

	h := http.Header{}
	h.Set("Cookie", "theme=dark")
	h.Set("X-Custom", "yes")

	data, err := b.Fetch(context.Background(), inbound("abc123"), "/v1/dashboard/summary", Options{Header: h})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":4}`, string(data))
}

func TestFetch_NoCookie(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Cookie"))
		io.WriteString(w, `{"success":true,"data":[]}`)
	})

	_, err := b.Fetch(context.Background(), inbound(""), "/v1/teams", Options{})
	require.NoError(t, err)

	_, err = b.Fetch(context.Background(), nil, "/v1/teams", Options{})
	require.NoError(t, err)
}

func TestFetch_UnauthorizedDistinctFromOtherStatuses(t *testing.T) {
	for _, status := range []int{401, 404, 500} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})

			_, err := b.Fetch(context.Background(), inbound("x"), "/v1/teams", Options{})
			require.Error(t, err)
			if status == 401 {
				assert.True(t, apierr.IsUnauthorized(err))
				return
			}
			assert.False(t, apierr.IsUnauthorized(err))
			assert.Equal(t, apierr.KindUpstreamHTTP, apierr.KindOf(err))
			assert.Contains(t, err.Error(), "/v1/teams")
			assert.Contains(t, err.Error(), http.StatusText(status))
		})
	}
}

func TestFetch_RejectedEnvelope(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"error":{"message":"year out of range"}}`)
	})

	_, err := b.Fetch(context.Background(), inbound("x"), "/v1/dashboard/summary", Options{})
	require.Error(t, err)
	assert.Equal(t, apierr.KindBackendRejected, apierr.KindOf(err))
	assert.Equal(t, "year out of range", err.Error())
}

func TestFetch_PostBody(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"x"}`, string(raw))
		io.WriteString(w, `{"success":true,"data":{"id":"9"}}`)
	})

	got, err := FetchJSON[map[string]string](context.Background(), b, inbound("x"), "/v1/teams",
		Options{Method: http.MethodPost, Body: map[string]string{"name": "x"}})
	require.NoError(t, err)
	assert.Equal(t, "9", got["id"])
}

func TestFetch_InvalidJSON(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>`)
	})
	_, err := b.Fetch(context.Background(), inbound("x"), "/v1/teams", Options{})
	assert.Error(t, err)
}

func TestFetch_ParallelCalls(t *testing.T) {
	b := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("access_token")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"success":true,"data":%q}`, r.URL.Path+"|"+ck.Value)
	})

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := FetchJSON[string](context.Background(), b, inbound(fmt.Sprint("tok", i)),
				fmt.Sprintf("/v1/item/%d", i), Options{})
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("/v1/item/%d|tok%d", i, i), results[i])
	}
}
