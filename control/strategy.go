// control/strategy.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package control defines the pluggable flight-control strategy that the
// flight manager runs once per cycle, along with reference strategies.
package control

import (
	"fmt"

	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/math"
)

// Strategy maps the current time and the (already advanced) model state to
// the next set of motor commands. It is called from a single goroutine and
// may keep private state such as integrators. It must return exactly
// MotorCount() finite values; the returned slice may be reused by the
// strategy on the next call.
type Strategy interface {
	ComputeMotorCommands(now float64, model dynamics.Observer) ([]float64, error)
}

// StrategyFunc adapts an ordinary function to Strategy.
type StrategyFunc func(now float64, model dynamics.Observer) ([]float64, error)

func (f StrategyFunc) ComputeMotorCommands(now float64, model dynamics.Observer) ([]float64, error) {
	return f(now, model)
}

// Constant always commands the same values.
type Constant []float64

func (c Constant) ComputeMotorCommands(now float64, model dynamics.Observer) ([]float64, error) {
	return c, nil
}

// Validate checks that values is a usable set of commands for n motors.
func Validate(values []float64, n int) error {
	if len(values) != n {
		return fmt.Errorf("%w: expected %d, got %d", ErrMotorCount, n, len(values))
	}
	if i, ok := math.AllFinite(values); !ok {
		return fmt.Errorf("%w: motor %d = %v", ErrNonFinite, i, values[i])
	}
	return nil
}
