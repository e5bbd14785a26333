// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that cross a
// trust boundary: resource identifiers spliced into backend URLs and
// payloads decoded from the wire.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// idPattern matches resource identifiers accepted in REST paths.
// Allows: letters, digits, hyphens and underscores (numeric ids, UUIDs,
// backend-issued slugs). Max length: 64 characters.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// ValidateID validates a resource identifier before it is used to build a
// backend path such as /v1/teams/{id}.
//
// Valid ids:
//   - 1-64 characters
//   - Letters, digits, '-' and '_'
//   - Must not start with '-' or '_'
//
// Rejecting '/', '.', '?' and '%' prevents a caller from steering the
// request to a different backend path.
//
// Example:
//
//	if err := validation.ValidateID(id); err != nil {
//	    return fmt.Errorf("invalid id: %w", err)
//	}
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid id format: %q (must be 1-64 alphanumeric chars, hyphens, or underscores)", id)
	}
	return nil
}

// SanitizeID trims whitespace and validates the identifier.
func SanitizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// NumericID converts a string identifier to the numeric form used by the
// local store. Zero is never a valid id.
func NumericID(id string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid numeric id: %q", id)
	}
	return n, nil
}

// FormatID converts a numeric local-store id to the string form shared
// with the remote API.
func FormatID(n uint64) string {
	return strconv.FormatUint(n, 10)
}
