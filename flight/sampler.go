// flight/sampler.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package flight

import (
	"log/slog"
)

// SmoothingWindow is the number of frames Sampler averages motor
// commands over.
const SmoothingWindow = 20

// Source is what a Sampler reads from; *Manager implements it.
type Source interface {
	Snapshot() Snapshot
	RotorDirections() []int
}

type SamplerStats struct {
	Frames   uint64
	Skipped  uint64 // cycles published between frames that no frame saw
	Repeated uint64 // frames that saw the same cycle as the previous frame
}

func (s SamplerStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("frames", s.Frames),
		slog.Uint64("skipped", s.Skipped),
		slog.Uint64("repeated", s.Repeated))
}

// Sampler is a consumer's view of a Source: it takes one snapshot per
// frame and keeps a moving average of the motor commands for smooth
// animation and sound intensity. A Sampler is not safe for concurrent
// use; each consumer should have its own.
type Sampler struct {
	src        Source
	directions []int

	window [SmoothingWindow][MaxMotors]float64
	sums   [MaxMotors]float64
	next   int
	filled int

	last  Snapshot
	stats SamplerStats
}

func NewSampler(src Source) *Sampler {
	return &Sampler{
		src:        src,
		directions: src.RotorDirections(),
	}
}

// Sample reads the current snapshot and folds it into the average.
func (s *Sampler) Sample() Snapshot {
	snap := s.src.Snapshot()

	if s.stats.Frames > 0 {
		switch {
		case snap.Cycle == s.last.Cycle:
			s.stats.Repeated++
		case snap.Cycle > s.last.Cycle+1:
			s.stats.Skipped += snap.Cycle - s.last.Cycle - 1
		}
	}
	s.stats.Frames++
	s.last = snap

	old := &s.window[s.next]
	for i := range MaxMotors {
		s.sums[i] += snap.Motors[i] - old[i]
	}
	*old = snap.Motors
	s.next = (s.next + 1) % SmoothingWindow
	s.filled = min(s.filled+1, SmoothingWindow)

	return snap
}

// Last returns the snapshot taken by the most recent call to Sample.
func (s *Sampler) Last() Snapshot {
	return s.last
}

// Average copies the moving average of each motor command into dst and
// returns the number of motors copied.
func (s *Sampler) Average(dst []float64) int {
	if s.filled == 0 {
		return 0
	}
	n := min(len(dst), s.last.N)
	for i := range n {
		dst[i] = s.sums[i] / float64(s.filled)
	}
	return n
}

// Intensity returns the mean of the averaged motor commands, in [0,1] for
// well-behaved strategies.
func (s *Sampler) Intensity() float64 {
	if s.filled == 0 || s.last.N == 0 {
		return 0
	}
	var sum float64
	for i := range s.last.N {
		sum += s.sums[i]
	}
	return sum / float64(s.filled*s.last.N)
}

// RotorDirections returns the spin directions cached at construction.
func (s *Sampler) RotorDirections() []int {
	return s.directions
}

func (s *Sampler) Stats() SamplerStats {
	return s.stats
}
