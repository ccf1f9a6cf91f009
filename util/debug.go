// util/debug.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"os"
	"strings"
)

// DebuggerIsRunning returns true if we are running under a debugger; this
// allows inhibiting stall warnings that would otherwise fire every time a
// breakpoint is hit. Currently only detects dlv.
func DebuggerIsRunning() bool {
	dlv, ok := os.LookupEnv("_")
	return ok && strings.HasSuffix(dlv, "/dlv")
}
