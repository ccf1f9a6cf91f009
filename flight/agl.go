// flight/agl.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package flight

import (
	gomath "math"
)

// AGLTracker converts raw distances from a downward ground probe into
// height above ground. The first measurement is taken with the vehicle at
// rest, so it becomes the zero reference.
type AGLTracker struct {
	offset  float64
	latched bool
}

// Update converts a raw probe distance to height above ground. A negative
// or non-finite distance means the probe found nothing, which is reported
// as +Inf without latching.
func (a *AGLTracker) Update(distance float64) float64 {
	if distance < 0 || gomath.IsNaN(distance) || gomath.IsInf(distance, 0) {
		return gomath.Inf(1)
	}
	if !a.latched {
		a.offset = distance
		a.latched = true
	}
	return distance - a.offset
}

func (a *AGLTracker) Offset() (float64, bool) {
	return a.offset, a.latched
}

func (a *AGLTracker) Reset() {
	*a = AGLTracker{}
}
