// flight/errors.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package flight

import (
	"errors"
	"fmt"
	"io"

	"github.com/goforj/godump"
)

var (
	ErrAlreadyStarted = errors.New("Flight manager already started")
	ErrMotorCount     = errors.New("Motor count out of range")
	ErrNilModel       = errors.New("Nil dynamical model")
	ErrNilStrategy    = errors.New("Nil control strategy")
	ErrStopped        = errors.New("Flight manager has been stopped")
	ErrWorkerOwned    = errors.New("Flight manager cycles are run by its worker")
)

// StrategyError records a control strategy failure that stopped the
// manager. Values holds whatever the strategy returned, if anything.
type StrategyError struct {
	Cycle  uint64
	Time   float64
	Values []float64
	Err    error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("control strategy fault at cycle %d (t=%.4f): %v", e.Cycle, e.Time, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// Dump writes a detailed description of the fault to w.
func (e *StrategyError) Dump(w io.Writer) {
	godump.Fdump(w, e)
}
