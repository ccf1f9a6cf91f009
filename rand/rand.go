// rand/rand.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package rand

import (
	gomath "math"

	"github.com/MichaelTJones/pcg"
)

///////////////////////////////////////////////////////////////////////////
// Random numbers.

// Rand is a small, seedable PCG32 generator. The zero value is not usable;
// use New. It is not safe for concurrent use: each goroutine that needs
// random numbers (in practice, the flight worker) owns its own Rand.
type Rand struct {
	r *pcg.PCG32

	// Box-Muller produces pairs; the second is kept for the next call.
	haveSpare bool
	spare     float64
}

func New() *Rand {
	return &Rand{r: pcg.NewPCG32()}
}

func (r *Rand) Seed(s int64) {
	r.r.Seed(uint64(s), 0xda3e39cb94b95bdb)
	r.haveSpare = false
}

// Float64 returns a value in [0, 1).
func (r *Rand) Float64() float64 {
	return float64(r.r.Random()) / (1 << 32)
}

// NormFloat64 returns a normally distributed value with mean 0 and
// standard deviation 1.
func (r *Rand) NormFloat64() float64 {
	if r.haveSpare {
		r.haveSpare = false
		return r.spare
	}

	var u float64
	for u == 0 {
		u = r.Float64()
	}
	v := r.Float64()

	mag := gomath.Sqrt(-2 * gomath.Log(u))
	r.spare = mag * gomath.Sin(2*gomath.Pi*v)
	r.haveSpare = true
	return mag * gomath.Cos(2*gomath.Pi*v)
}
