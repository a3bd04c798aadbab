// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command adam forecasts control health and escalation risk.
//
//	adam forecast --csv history.csv
//	adam replay --csv history.csv --incident 2025-01-10 --fail-on-warning
//	adam serve
//
// Exit status is 0 on success, 1 when --fail-on-warning is set and an ERI
// warning was raised, and 2 on any error.
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
