// math/core.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

import (
	gomath "math"

	"golang.org/x/exp/constraints"
)

// Degrees converts an angle expressed in radians to degrees
func Degrees[F constraints.Float](r F) F {
	return r * 180 / gomath.Pi
}

// Radians converts an angle expressed in degrees to radians
func Radians[F constraints.Float](d F) F {
	return d / 180 * gomath.Pi
}

func Sqr[V constraints.Integer | constraints.Float](v V) V { return v * v }

func Clamp[T constraints.Ordered](x T, low T, high T) T {
	if x < low {
		return low
	} else if x > high {
		return high
	}
	return x
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !gomath.IsNaN(v) && !gomath.IsInf(v, 0)
}

// AllFinite reports whether every element of v is finite; it returns the
// index of the first offending element otherwise.
func AllFinite(v []float64) (int, bool) {
	for i, f := range v {
		if !IsFinite(f) {
			return i, false
		}
	}
	return -1, true
}

// NormalizeAngle returns a in the range [-pi, pi).
func NormalizeAngle(a float64) float64 {
	a = gomath.Mod(a+gomath.Pi, 2*gomath.Pi)
	if a < 0 {
		a += 2 * gomath.Pi
	}
	return a - gomath.Pi
}
