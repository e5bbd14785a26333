// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mode decides whether resource actions run against the local
// store or the remote field-operations API.
package mode

// Selector holds the data-source mode. It is fixed at construction and
// never changes for the life of the process.
type Selector struct {
	external bool
}

// New returns a Selector. external=true routes resource actions to the
// remote API.
func New(external bool) Selector {
	return Selector{external: external}
}

// IsExternalMode reports whether the remote API is the source of truth.
func (s Selector) IsExternalMode() bool {
	return s.external
}

// String returns "external" or "local".
func (s Selector) String() string {
	if s.external {
		return "external"
	}
	return "local"
}
