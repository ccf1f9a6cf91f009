// control/strategy_test.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package control

import (
	"errors"
	gomath "math"
	"testing"

	"github.com/mmp/multicopter/dynamics"
)

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		values []float64
		n      int
		err    error
	}{
		{values: []float64{0, 0.5, 1, 0.25}, n: 4},
		{values: []float64{}, n: 0},
		{values: []float64{1, 1, 1}, n: 4, err: ErrMotorCount},
		{values: nil, n: 4, err: ErrMotorCount},
		{values: []float64{1, gomath.NaN(), 1, 1}, n: 4, err: ErrNonFinite},
		{values: []float64{1, 1, gomath.Inf(-1), 1}, n: 4, err: ErrNonFinite},
	} {
		err := Validate(test.values, test.n)
		if test.err == nil && err != nil {
			t.Errorf("%v/%d: unexpected error %v", test.values, test.n, err)
		} else if test.err != nil && !errors.Is(err, test.err) {
			t.Errorf("%v/%d: expected %v, got %v", test.values, test.n, test.err, err)
		}
	}
}

func TestStrategyFuncAndConstant(t *testing.T) {
	m := dynamics.NewMultirotor(dynamics.QuadXAP())

	var calledAt float64
	f := StrategyFunc(func(now float64, model dynamics.Observer) ([]float64, error) {
		calledAt = now
		return make([]float64, model.MotorCount()), nil
	})
	v, err := f.ComputeMotorCommands(1.5, m)
	if err != nil || len(v) != 4 || calledAt != 1.5 {
		t.Errorf("expected 4 values at t=1.5, got %v (t=%f, err %v)", v, calledAt, err)
	}

	c := Constant{1, 1, 1, 1}
	v, err = c.ComputeMotorCommands(0, m)
	if err != nil || Validate(v, 4) != nil || v[3] != 1 {
		t.Errorf("expected [1 1 1 1], got %v (err %v)", v, err)
	}
}
