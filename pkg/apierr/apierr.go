// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apierr defines the closed set of failures that can cross the
// backend-integration boundary of the edge service.
//
// # Description
//
// Every component that talks to the backend (outbound client, server-side
// bridge, reverse proxy) reports failures as a single Go type, *Error,
// tagged with one Kind. Callers branch on the Kind (for example a route
// guard redirecting on KindUnauthorized) instead of matching on strings.
//
// # Kinds
//
//	KindBackendRejected      backend answered {success:false}
//	KindTransportUnreachable connection could not be established
//	KindTransportTimeout     request exceeded its deadline
//	KindUnauthorized         HTTP 401
//	KindUpstreamHTTP         any other non-2xx status
//	KindProxyInternal        the proxy failed before reaching the backend
//	KindUnknown              nothing more specific could be determined
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Messages shown to users for transport failures.
const (
	MsgConnectionRefused = "Cannot connect to backend API. Is the server running?"
	MsgTimeout           = "Request timeout. The server took too long to respond."
	MsgFallback          = "An unexpected error occurred"
)

// Kind tags an Error with its place in the failure taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindBackendRejected
	KindTransportUnreachable
	KindTransportTimeout
	KindUnauthorized
	KindUpstreamHTTP
	KindProxyInternal
)

// String returns the metric/log label for the kind.
func (k Kind) String() string {
	switch k {
	case KindBackendRejected:
		return "backend_rejected"
	case KindTransportUnreachable:
		return "transport_unreachable"
	case KindTransportTimeout:
		return "transport_timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstreamHTTP:
		return "upstream_http"
	case KindProxyInternal:
		return "proxy_internal"
	default:
		return "unknown"
	}
}

// Error is the uniform failure type of the integration layer.
//
// # Fields
//
//   - Kind: Position in the taxonomy.
//   - Message: Human-readable message, safe to show in the UI. Never empty.
//   - Code: Optional backend error code from the envelope.
//   - Status: HTTP status when one was received, else 0.
//   - Path: Backend path the request targeted, when known.
//   - Err: Underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Status  int
	Path    string
	Err     error
}

// Error implements the error interface. It returns Message only so that
// the value can be shown to users as-is.
func (e *Error) Error() string {
	if e.Message == "" {
		return MsgFallback
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind. An empty message is replaced by
// MsgFallback so every Error carries something to display.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = MsgFallback
	}
	return &Error{Kind: kind, Message: message}
}

// Rejected reports an explicit {success:false} answer from the backend.
func Rejected(code, message string, status int) *Error {
	e := New(KindBackendRejected, message)
	e.Code = code
	e.Status = status
	return e
}

// Unreachable reports a failed connection attempt.
func Unreachable(message string, cause error) *Error {
	e := New(KindTransportUnreachable, message)
	e.Err = cause
	return e
}

// Timeout reports an expired deadline.
func Timeout(cause error) *Error {
	e := New(KindTransportTimeout, MsgTimeout)
	e.Err = cause
	return e
}

// Unauthorized reports an HTTP 401 for path.
func Unauthorized(path, message string) *Error {
	if message == "" {
		message = "Unauthorized"
	}
	e := New(KindUnauthorized, message)
	e.Status = 401
	e.Path = path
	return e
}

// UpstreamHTTP reports a non-2xx status other than 401. When message is
// empty the path and status text are embedded for diagnosability.
func UpstreamHTTP(path string, status int, statusText, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("request to %s failed: %d %s", path, status, statusText)
	}
	e := New(KindUpstreamHTTP, message)
	e.Status = status
	e.Path = path
	return e
}

// ProxyInternal reports a forwarding failure inside the proxy.
func ProxyInternal(cause error) *Error {
	msg := MsgFallback
	if cause != nil {
		msg = cause.Error()
	}
	e := New(KindProxyInternal, msg)
	e.Err = cause
	return e
}

// FromTransport classifies an error returned by an HTTP round trip.
//
// # Description
//
// Applies the transport part of the message priority:
//   - connection refused  -> KindTransportUnreachable, MsgConnectionRefused
//   - deadline / timeout  -> KindTransportTimeout, MsgTimeout
//   - anything else       -> KindTransportUnreachable with err's own message
//
// An err that already is an *Error is returned unchanged.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Unreachable(MsgConnectionRefused, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout(err)
	}
	return Unreachable(err.Error(), err)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsUnauthorized reports whether err is (or wraps) a KindUnauthorized Error.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// MessageOf returns a non-empty, user-presentable message for any error.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return MsgFallback
}
