// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fieldops runs and inspects the FieldOps edge service.
//
// # Usage
//
//	fieldops serve --config fieldops.yaml
//	fieldops config print --config fieldops.yaml
//	fieldops config init --config fieldops.yaml
//	fieldops mode
//
// Configuration is read from the YAML file, then overridden by FIELDOPS_*
// environment variables. A missing file means defaults.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
