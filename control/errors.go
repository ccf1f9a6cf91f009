// control/errors.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package control

import (
	"errors"
)

var (
	ErrMotorCount    = errors.New("Wrong number of motor commands")
	ErrNonFinite     = errors.New("Non-finite motor command")
	ErrNoRotors      = errors.New("No rotors specified")
	ErrRotorMismatch = errors.New("Rotor layout does not match model")
)
