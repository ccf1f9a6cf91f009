// dynamics/multirotor.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package dynamics

import (
	gomath "math"

	"github.com/mmp/multicopter/math"
	"github.com/mmp/multicopter/rand"

	"github.com/go-gl/mathgl/mgl64"
)

const Gravity = 9.80665 // m/s^2

// Rotor describes one motor/propeller: its position in the body frame
// (x forward, y right, meters) and its spin direction.
type Rotor struct {
	X, Y      float64
	Direction int // +1 or -1
}

// FrameParams are the physical parameters of a multirotor.
type FrameParams struct {
	Mass     float64 // kg
	Ix       float64 // kg m^2
	Iy       float64
	Iz       float64
	B        float64 // thrust coefficient, N s^2
	D        float64 // drag (yaw torque) coefficient, N m s^2
	MaxOmega float64 // rad/s at motor command 1
	Drag     float64 // linear air drag, N per m/s

	// Turbulence is the standard deviation of a random horizontal
	// acceleration, in m/s^2 per sqrt(second). Zero disables it.
	Turbulence float64
	Seed       int64

	Rotors []Rotor
}

// QuadXAP returns parameters for a small quadcopter in ArduPilot's X
// motor ordering: front-right, rear-left, front-left, rear-right.
func QuadXAP() FrameParams {
	const arm = 0.25 * gomath.Sqrt2 / 2
	return FrameParams{
		Mass:     1.5,
		Ix:       0.03,
		Iy:       0.03,
		Iz:       0.06,
		B:        5.3e-6,
		D:        1.1e-7,
		MaxOmega: 1100,
		Drag:     0.25,
		Rotors: []Rotor{
			{X: arm, Y: arm, Direction: -1},
			{X: -arm, Y: -arm, Direction: -1},
			{X: arm, Y: -arm, Direction: +1},
			{X: -arm, Y: arm, Direction: +1},
		},
	}
}

// Multirotor is a rigid-body multirotor with first-order Euler
// integration, ground contact, and optional turbulence. It implements
// Model.
type Multirotor struct {
	params FrameParams
	state  State
	motors []float64

	airborne bool
	agl      float64 // NaN until a ground clearance has been provided
	rng      *rand.Rand
}

func NewMultirotor(params FrameParams) *Multirotor {
	m := &Multirotor{
		params: params,
		motors: make([]float64, len(params.Rotors)),
		agl:    gomath.NaN(),
	}
	if params.Turbulence > 0 {
		m.rng = rand.New()
		m.rng.Seed(params.Seed)
	}
	return m
}

func (m *Multirotor) MotorCount() int { return len(m.params.Rotors) }

func (m *Multirotor) RotorDirection(i int) int { return m.params.Rotors[i].Direction }

func (m *Multirotor) State() State { return m.state }

func (m *Multirotor) X(i int) float64 { return m.state[i] }

func (m *Multirotor) Airborne() bool { return m.airborne }

func (m *Multirotor) Params() FrameParams { return m.params }

func (m *Multirotor) Init(rotation [3]float64) {
	m.state = State{}
	m.state[StatePhi] = rotation[0]
	m.state[StateTheta] = rotation[1]
	m.state[StatePsi] = rotation[2]
	clear(m.motors)
	m.airborne = false
	m.agl = gomath.NaN()
}

func (m *Multirotor) SetMotors(values []float64) {
	for i := range m.motors {
		if i < len(values) {
			m.motors[i] = math.Clamp(values[i], 0, 1)
		} else {
			m.motors[i] = 0
		}
	}
}

func (m *Multirotor) SetGroundClearance(agl float64) {
	m.agl = agl
}

// HoverCommand returns the motor command that, applied equally to every
// motor, balances gravity when level.
func (m *Multirotor) HoverCommand() float64 {
	p := m.params
	perMotor := p.Mass * Gravity / float64(len(p.Rotors))
	omega := gomath.Sqrt(perMotor / p.B)
	return omega / p.MaxOmega
}

// Forces returns total thrust (N) and body roll, pitch, and yaw moments
// (N m) for the current motor commands.
func (m *Multirotor) Forces() (thrust float64, moments [3]float64) {
	p := m.params
	for i, r := range p.Rotors {
		omega2 := math.Sqr(m.motors[i] * p.MaxOmega)
		t := p.B * omega2
		thrust += t
		// r x F with F = (0, 0, -t) in the body frame.
		moments[0] += -r.Y * t
		moments[1] += r.X * t
		moments[2] += -float64(r.Direction) * p.D * omega2
	}
	return
}

func (m *Multirotor) Update(dt float64) {
	if dt <= 0 {
		return
	}

	p := m.params
	s := &m.state
	thrust, moments := m.Forces()

	// Rotational dynamics; the Euler-angle rates stand in for body rates,
	// which is adequate away from large attitudes.
	pr, qr, rr := s[StateDPhi], s[StateDTheta], s[StateDPsi]
	ddphi := (moments[0] + (p.Iy-p.Iz)*qr*rr) / p.Ix
	ddtheta := (moments[1] + (p.Iz-p.Ix)*pr*rr) / p.Iy
	ddpsi := (moments[2] + (p.Ix-p.Iy)*pr*qr) / p.Iz

	// Translational dynamics in the earth frame.
	q := mgl64.AnglesToQuat(s[StatePsi], s[StateTheta], s[StatePhi], mgl64.ZYX)
	f := q.Rotate(mgl64.Vec3{0, 0, -thrust})
	vel := mgl64.Vec3{s[StateDX], s[StateDY], s[StateDZ]}
	accel := f.Mul(1 / p.Mass).Add(mgl64.Vec3{0, 0, Gravity}).Sub(vel.Mul(p.Drag / p.Mass))

	if m.rng != nil && m.airborne {
		sigma := p.Turbulence / gomath.Sqrt(dt)
		accel = accel.Add(mgl64.Vec3{sigma * m.rng.NormFloat64(), sigma * m.rng.NormFloat64(), 0})
	}

	if !m.airborne {
		// Sitting on the ground until thrust overcomes weight.
		if accel.Z() >= 0 {
			return
		}
		m.airborne = true
	}

	s[StateDX] += accel.X() * dt
	s[StateDY] += accel.Y() * dt
	s[StateDZ] += accel.Z() * dt
	s[StateX] += s[StateDX] * dt
	s[StateY] += s[StateDY] * dt
	s[StateZ] += s[StateDZ] * dt

	s[StateDPhi] += ddphi * dt
	s[StateDTheta] += ddtheta * dt
	s[StateDPsi] += ddpsi * dt
	s[StatePhi] += s[StateDPhi] * dt
	s[StateTheta] += s[StateDTheta] * dt
	s[StatePsi] = math.NormalizeAngle(s[StatePsi] + s[StateDPsi]*dt)

	if m.onGround() && s[StateDZ] > 0 {
		m.land()
	}
}

func (m *Multirotor) onGround() bool {
	if !gomath.IsNaN(m.agl) {
		return m.agl <= 0
	}
	return m.state[StateZ] >= 0
}

// land zeroes velocities and levels the vehicle, keeping its heading.
func (m *Multirotor) land() {
	s := &m.state
	if gomath.IsNaN(m.agl) {
		s[StateZ] = 0
	}
	s[StateDX], s[StateDY], s[StateDZ] = 0, 0, 0
	s[StatePhi], s[StateTheta] = 0, 0
	s[StateDPhi], s[StateDTheta], s[StateDPsi] = 0, 0, 0
	m.airborne = false
}
