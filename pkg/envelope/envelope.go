// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envelope implements the wire contract shared by the edge service
// and the field-operations backend.
//
// Every backend response, success or failure, has the shape:
//
//	{ "success": true,  "data": <T> }
//	{ "success": false, "error": { "code": "...", "message": "..." } }
//
// Callers never see the envelope itself. Unwrap returns the data field on
// success and a *apierr.Error on an explicit rejection. Decode adds a
// structural validation step so that code past the wire boundary can rely
// on validated types.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/AleutianAI/FieldOps/pkg/validation"
)

// =============================================================================
// Wire Types
// =============================================================================

// ErrorBody is the error member of a failed envelope.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Envelope is the response wrapper written by the backend and by the
// proxy when it has to manufacture its own failure response.
type Envelope[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// OK wraps data in a successful envelope.
func OK[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data}
}

// Fail builds a failed envelope carrying message.
func Fail(message string) Envelope[any] {
	if message == "" {
		message = apierr.MsgFallback
	}
	return Envelope[any]{Success: false, Error: &ErrorBody{Message: message}}
}

// probe is used to inspect an arbitrary JSON body without committing to
// the envelope shape. Success is a pointer so that "absent" and "false"
// can be told apart. Error is raw because some backends send a bare
// string instead of an object.
type probe struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// =============================================================================
// Unwrapping
// =============================================================================

// Unwrap extracts the payload of a 2xx response body.
//
// # Description
//
// Applies the response-phase rules of the integration layer:
//   - {success:true, data}  -> data (JSON null when data is omitted)
//   - {success:false, ...}  -> *apierr.Error of KindBackendRejected
//   - anything else         -> body unchanged (tolerates backends that do
//     not follow the envelope, including non-JSON bodies)
//
// # Inputs
//
//   - body: Raw response body.
//   - status: HTTP status of the response, recorded on rejections.
//
// # Outputs
//
//   - json.RawMessage: The unwrapped payload.
//   - error: Non-nil only for an explicit {success:false}.
func Unwrap(body []byte, status int) (json.RawMessage, error) {
	var p probe
	if err := json.Unmarshal(body, &p); err != nil || p.Success == nil {
		return json.RawMessage(body), nil
	}
	if *p.Success {
		if len(p.Data) == 0 {
			return json.RawMessage("null"), nil
		}
		return p.Data, nil
	}
	code, msg := errorFields(p)
	return nil, apierr.Rejected(code, msg, status)
}

// ExtractMessage returns the backend-supplied error code and message from
// an error response body, in priority order error.message then top-level
// message. Both are empty when the body carries neither.
func ExtractMessage(body []byte) (code, message string) {
	var p probe
	if err := json.Unmarshal(body, &p); err != nil {
		return "", ""
	}
	return errorFields(p)
}

func errorFields(p probe) (string, string) {
	var code, msg string
	if len(p.Error) > 0 && !bytes.Equal(p.Error, []byte("null")) {
		var eb ErrorBody
		if err := json.Unmarshal(p.Error, &eb); err == nil {
			code, msg = eb.Code, eb.Message
		} else {
			var s string
			if err := json.Unmarshal(p.Error, &s); err == nil {
				msg = s
			}
		}
	}
	if msg == "" {
		msg = p.Message
	}
	return code, msg
}

// =============================================================================
// Typed Decoding
// =============================================================================

// Decode unmarshals an unwrapped payload into T and validates it.
//
// # Description
//
// This is the schema-validation step at the wire boundary. After Decode
// returns without error the value satisfies every `validate` tag on T (or
// on each element when T is a slice).
//
// # Outputs
//
//   - T: The decoded value.
//   - error: *apierr.Error of KindBackendRejected if the payload does not
//     match the expected shape.
func Decode[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if err := json.Unmarshal(data, &out); err != nil {
		e := apierr.New(apierr.KindBackendRejected,
			fmt.Sprintf("unexpected response shape: %v", err))
		e.Err = err
		return out, e
	}
	if err := validation.Value(out); err != nil {
		e := apierr.New(apierr.KindBackendRejected,
			fmt.Sprintf("invalid response data: %v", err))
		e.Err = err
		return out, e
	}
	return out, nil
}
