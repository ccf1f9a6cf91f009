// control/pid.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package control

import (
	"fmt"
	"log/slog"
	gomath "math"
	"time"

	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/math"

	"go.einride.tech/pid"
)

// Gains are proportional, integral, and derivative gains for one axis.
type Gains struct {
	P float64 `json:"p"`
	I float64 `json:"i"`
	D float64 `json:"d"`
}

func (g Gains) config() pid.ControllerConfig {
	return pid.ControllerConfig{
		ProportionalGain: g.P,
		IntegralGain:     g.I,
		DerivativeGain:   g.D,
	}
}

// HoverConfig configures HoverPID.
type HoverConfig struct {
	// Hover is the collective motor command that balances gravity.
	Hover float64 `json:"hover"`
	// Altitude is the target height above the NED origin, in meters.
	Altitude float64 `json:"altitude"`
	// Heading is the target yaw, in radians.
	Heading float64 `json:"heading"`

	AltitudeGains Gains `json:"altitude_gains"`
	RollGains     Gains `json:"roll_gains"`
	PitchGains    Gains `json:"pitch_gains"`
	YawGains      Gains `json:"yaw_gains"`

	// MaxCorrection limits the attitude terms of the mix so collective
	// authority is preserved.
	MaxCorrection float64 `json:"max_correction"`
}

func DefaultHoverConfig() HoverConfig {
	return HoverConfig{
		Hover:         0.75,
		Altitude:      2,
		AltitudeGains: Gains{P: 0.1, I: 0.02, D: 0.1},
		RollGains:     Gains{P: 0.05, D: 0.025},
		PitchGains:    Gains{P: 0.05, D: 0.025},
		YawGains:      Gains{P: 0.5, D: 0.3},
		MaxCorrection: 0.2,
	}
}

// HoverPID holds altitude, level attitude, and heading with four
// independent PID loops whose outputs are mixed onto the motors according
// to the rotor layout.
type HoverPID struct {
	cfg    HoverConfig
	rotors []dynamics.Rotor

	altitude, roll, pitch, yaw pid.Controller

	lastTime float64
	primed   bool
	motors   []float64
}

func NewHoverPID(cfg HoverConfig, rotors []dynamics.Rotor) (*HoverPID, error) {
	if len(rotors) == 0 {
		return nil, ErrNoRotors
	}
	return &HoverPID{
		cfg:      cfg,
		rotors:   rotors,
		altitude: pid.Controller{Config: cfg.AltitudeGains.config()},
		roll:     pid.Controller{Config: cfg.RollGains.config()},
		pitch:    pid.Controller{Config: cfg.PitchGains.config()},
		yaw:      pid.Controller{Config: cfg.YawGains.config()},
		motors:   make([]float64, len(rotors)),
	}, nil
}

func (h *HoverPID) Config() HoverConfig { return h.cfg }

// SetTarget changes the altitude and heading setpoints; it must be called
// from the goroutine that calls ComputeMotorCommands.
func (h *HoverPID) SetTarget(altitude, heading float64) {
	h.cfg.Altitude = altitude
	h.cfg.Heading = heading
}

func (h *HoverPID) Reset() {
	h.altitude.Reset()
	h.roll.Reset()
	h.pitch.Reset()
	h.yaw.Reset()
	h.primed = false
	clear(h.motors)
}

func (h *HoverPID) ComputeMotorCommands(now float64, model dynamics.Observer) ([]float64, error) {
	if n := model.MotorCount(); n != len(h.rotors) {
		return nil, fmt.Errorf("%w: %d rotors, model has %d motors", ErrRotorMismatch, len(h.rotors), n)
	}

	s := model.State()
	// Heading error is taken the short way around.
	yawRef := s[dynamics.StatePsi] + math.NormalizeAngle(h.cfg.Heading-s[dynamics.StatePsi])

	if !h.primed {
		// Seed the previous errors so the first derivative is zero rather
		// than a spike, then command plain hover.
		h.altitude.State.ControlError = h.cfg.Altitude - s.Altitude()
		h.roll.State.ControlError = -s[dynamics.StatePhi]
		h.pitch.State.ControlError = -s[dynamics.StateTheta]
		h.yaw.State.ControlError = yawRef - s[dynamics.StatePsi]
		h.lastTime = now
		h.primed = true
		h.mix(0, 0, 0, 0)
		return h.motors, nil
	}

	dt := now - h.lastTime
	if dt <= 0 {
		// The derivative is undefined; hold the previous commands.
		return h.motors, nil
	}
	h.lastTime = now
	interval := time.Duration(dt * float64(time.Second))
	if interval <= 0 {
		return h.motors, nil
	}

	h.altitude.Update(pid.ControllerInput{
		ReferenceSignal:  h.cfg.Altitude,
		ActualSignal:     s.Altitude(),
		SamplingInterval: interval,
	})
	h.roll.Update(pid.ControllerInput{
		ReferenceSignal:  0,
		ActualSignal:     s[dynamics.StatePhi],
		SamplingInterval: interval,
	})
	h.pitch.Update(pid.ControllerInput{
		ReferenceSignal:  0,
		ActualSignal:     s[dynamics.StateTheta],
		SamplingInterval: interval,
	})
	h.yaw.Update(pid.ControllerInput{
		ReferenceSignal:  yawRef,
		ActualSignal:     s[dynamics.StatePsi],
		SamplingInterval: interval,
	})

	h.mix(h.altitude.State.ControlSignal, h.roll.State.ControlSignal,
		h.pitch.State.ControlSignal, h.yaw.State.ControlSignal)
	return h.motors, nil
}

// mix distributes collective and roll/pitch/yaw demands over the rotors.
// A positive roll demand raises the left (y<0) rotors, a positive pitch
// demand raises the front rotors, and a positive yaw demand speeds up the
// rotors whose reaction torque turns the vehicle clockwise.
func (h *HoverPID) mix(collective, roll, pitch, yaw float64) {
	lim := h.cfg.MaxCorrection
	roll = math.Clamp(roll, -lim, lim)
	pitch = math.Clamp(pitch, -lim, lim)
	yaw = math.Clamp(yaw, -lim, lim)

	for i, r := range h.rotors {
		v := h.cfg.Hover + collective
		v -= sign(r.Y) * roll
		v += sign(r.X) * pitch
		v -= float64(r.Direction) * yaw
		h.motors[i] = math.Clamp(v, 0, 1)
	}
}

func sign(v float64) float64 {
	if v == 0 {
		return 0
	}
	return gomath.Copysign(1, v)
}

func (h *HoverPID) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("altitude_target", h.cfg.Altitude),
		slog.Float64("heading_target", h.cfg.Heading),
		slog.Float64("altitude_signal", h.altitude.State.ControlSignal),
		slog.Float64("roll_signal", h.roll.State.ControlSignal),
		slog.Float64("pitch_signal", h.pitch.State.ControlSignal),
		slog.Float64("yaw_signal", h.yaw.State.ControlSignal))
}
