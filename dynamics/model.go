// dynamics/model.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package dynamics defines the contract between the flight core and a
// vehicle's dynamical model, and provides a reference multirotor model.
package dynamics

import (
	"fmt"
	"log/slog"
)

// Indices into State. The frame is NED (north, east, down) and angles are
// in radians; each quantity is followed by its first time derivative.
const (
	StateX = iota
	StateDX
	StateY
	StateDY
	StateZ
	StateDZ
	StatePhi
	StateDPhi
	StateTheta
	StateDTheta
	StatePsi
	StateDPsi
	StateDim
)

type State [StateDim]float64

func (s State) Position() [3]float64 {
	return [3]float64{s[StateX], s[StateY], s[StateZ]}
}

func (s State) Velocity() [3]float64 {
	return [3]float64{s[StateDX], s[StateDY], s[StateDZ]}
}

// Attitude returns roll, pitch, and yaw (phi, theta, psi).
func (s State) Attitude() [3]float64 {
	return [3]float64{s[StatePhi], s[StateTheta], s[StatePsi]}
}

// Altitude returns height above the NED origin, i.e., -z.
func (s State) Altitude() float64 {
	return -s[StateZ]
}

func (s State) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("pos", fmt.Sprintf("%.3f %.3f %.3f", s[StateX], s[StateY], s[StateZ])),
		slog.String("vel", fmt.Sprintf("%.3f %.3f %.3f", s[StateDX], s[StateDY], s[StateDZ])),
		slog.String("att", fmt.Sprintf("%.3f %.3f %.3f", s[StatePhi], s[StateTheta], s[StatePsi])))
}

// Observer is the read-only view of a model that control strategies are
// given; it has no way to mutate the model.
type Observer interface {
	MotorCount() int
	// RotorDirection returns +1 or -1 for the spin direction of motor i.
	RotorDirection(i int) int
	State() State
	X(i int) float64
}

// Model is a vehicle's dynamical model. It is not safe for concurrent use:
// once a flight manager is running, only the flight worker may call its
// methods.
type Model interface {
	Observer

	// Init resets the model at rest with the given initial roll, pitch,
	// and yaw, in radians.
	Init(rotation [3]float64)
	// SetMotors sets the per-motor commands, each nominally in [0,1].
	// values has exactly MotorCount() elements.
	SetMotors(values []float64)
	// Update advances the model by dt seconds. Update(0) must leave the
	// state unchanged.
	Update(dt float64)
	// SetGroundClearance provides the latest measured height above
	// ground, in meters.
	SetGroundClearance(agl float64)
}
