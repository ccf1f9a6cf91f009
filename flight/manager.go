// flight/manager.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package flight coordinates a dynamical model and a control strategy on a
// dedicated worker goroutine and hands the resulting motor commands to
// consumers that sample them at their own rate.
package flight

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mmp/multicopter/control"
	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/log"
	"github.com/mmp/multicopter/math"
	"github.com/mmp/multicopter/util"
	"github.com/mmp/multicopter/worker"
)

// Options configures a Manager.
type Options struct {
	Clock       worker.Clock
	Worker      worker.Config
	ReadTimeout time.Duration
	// Rotation is the initial roll, pitch, and yaw passed to the model's
	// Init, in radians.
	Rotation [3]float64
}

type Option func(*Options)

// WithClock sets the timestamp source; the default is a MonotonicClock
// created when the manager is.
func WithClock(c worker.Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithRate limits the worker to hz cycles per second. By default it runs
// back-to-back.
func WithRate(hz float64) Option {
	return func(o *Options) { o.Worker.Rate = hz }
}

// WithStallWarning sets the cycle duration above which a warning is
// logged.
func WithStallWarning(d time.Duration) Option {
	return func(o *Options) { o.Worker.StallWarning = d }
}

// WithReadTimeout bounds how long consumer reads wait for the writer.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) { o.ReadTimeout = d }
}

// WithRotation sets the model's initial attitude.
func WithRotation(phi, theta, psi float64) Option {
	return func(o *Options) { o.Rotation = [3]float64{phi, theta, psi} }
}

type Stats struct {
	Cycles       uint64
	Regressions  uint64
	ReadTimeouts uint64
	Running      bool
	Worker       worker.Stats
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("cycles", s.Cycles),
		slog.Uint64("regressions", s.Regressions),
		slog.Uint64("read_timeouts", s.ReadTimeouts),
		slog.Bool("running", s.Running),
		slog.Any("worker", s.Worker))
}

// Manager runs the per-cycle protocol: each cycle applies the commands
// computed on the previous cycle to the model, advances the model by the
// measured elapsed time, and asks the strategy for the next commands,
// which are then published to consumers.
//
// A Manager is RUNNING from construction until Stop is called or the
// worker faults; once stopped it never runs again.
type Manager struct {
	model    dynamics.Model
	observer dynamics.Observer
	strategy control.Strategy
	lg       *log.Logger
	opts     Options

	n          int
	directions []int

	engine    *worker.Engine
	lifecycle util.LoggingMutex
	started   atomic.Bool
	running   util.AtomicBool
	fault     atomic.Pointer[StrategyError]

	// Owned by whichever goroutine runs cycles: the caller of Cycle before
	// Start, the worker after.
	commands    [MaxMotors]float64
	previous    float64
	lastWarning time.Time
	warnedAt    uint64

	buf         commandBuffer
	agl         util.AtomicFloat64
	aglSet      atomic.Bool
	cycles      atomic.Uint64
	regressions atomic.Uint64
}

// NewManager initializes model with the configured rotation and returns a
// running, but not yet started, manager. The model must not be used by
// anything else afterward.
func NewManager(model dynamics.Model, strategy control.Strategy, lg *log.Logger, opts ...Option) (*Manager, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if strategy == nil {
		return nil, ErrNilStrategy
	}

	o := Options{ReadTimeout: DefaultReadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = worker.NewMonotonicClock()
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}

	n := model.MotorCount()
	if n <= 0 || n > MaxMotors {
		return nil, fmt.Errorf("%w: %d motors, maximum %d", ErrMotorCount, n, MaxMotors)
	}

	m := &Manager{
		model:    model,
		observer: readOnly{model},
		strategy: strategy,
		lg:       lg,
		opts:     o,
		n:        n,
		engine:   worker.NewEngine(o.Clock, o.Worker, lg),
	}
	m.buf.timeout = o.ReadTimeout
	for i := range n {
		m.directions = append(m.directions, model.RotorDirection(i))
	}

	model.Init(o.Rotation)

	initial := Snapshot{N: n, State: model.State()}
	m.buf.publish(&initial)
	m.buf.remember(initial)

	m.running.Store(true)
	lg.Info("flight manager created", slog.Int("motors", n), slog.Any("rotation", o.Rotation),
		slog.Float64("rate", o.Worker.Rate))

	return m, nil
}

// Start launches the worker goroutine.
func (m *Manager) Start() error {
	m.lifecycle.Lock(m.lg)
	defer m.lifecycle.Unlock(m.lg)

	if !m.running.Load() {
		return ErrStopped
	}
	if m.started.Load() {
		return ErrAlreadyStarted
	}
	// Set first so external Cycle calls are refused before the worker runs.
	m.started.Store(true)
	if err := m.engine.Start(m.cycle); err != nil {
		m.started.Store(false)
		return err
	}

	go func() {
		// However the worker exits, the manager is finished.
		<-m.engine.Done()
		m.running.Store(false)
	}()

	return nil
}

// Stop asks the worker to exit; the current cycle, if any, completes and
// no further cycles run. Stop does not wait; use Wait for that. It may be
// called any number of times from any goroutine.
func (m *Manager) Stop() {
	if m.running.Swap(false) {
		m.lg.Info("flight manager stopping", slog.Any("stats", m.Stats()))
	}
	m.engine.RequestStop()
}

// Wait blocks until the worker goroutine has exited and returns the fault
// that ended it, if any. It returns nil immediately if the manager was
// never started.
func (m *Manager) Wait() error {
	err := m.engine.Join()
	if m.started.Load() {
		m.running.Store(false)
	}
	return err
}

// Close stops the manager and waits for the worker to exit.
func (m *Manager) Close() error {
	m.Stop()
	return m.Wait()
}

// Done returns a channel that is closed when the worker goroutine exits.
// It is never closed for a manager that was not started.
func (m *Manager) Done() <-chan struct{} {
	return m.engine.Done()
}

// Err returns the fault that stopped the manager, or nil if it is still
// running or was stopped cleanly.
func (m *Manager) Err() error {
	if f := m.fault.Load(); f != nil {
		return f
	}
	select {
	case <-m.engine.Done():
		return m.engine.Join()
	default:
		return nil
	}
}

func (m *Manager) Running() bool {
	return m.running.Load()
}

func (m *Manager) MotorCount() int {
	return m.n
}

// RotorDirections returns the spin direction (+1 or -1) of each motor.
func (m *Manager) RotorDirections() []int {
	return append([]int(nil), m.directions...)
}

// ReadActuatorCommands copies the most recently published motor commands
// into dst and returns the number copied. It never observes a mix of two
// cycles' commands and waits for the worker for at most the configured
// read timeout.
func (m *Manager) ReadActuatorCommands(dst []float64) int {
	s := m.buf.read()
	return copy(dst, s.Motors[:s.N])
}

// Snapshot returns the most recently published snapshot.
func (m *Manager) Snapshot() Snapshot {
	return m.buf.read()
}

// SetGroundClearance supplies the latest measured height above ground;
// the worker passes it to the model at the start of the next cycle.
// Non-finite values are ignored.
func (m *Manager) SetGroundClearance(agl float64) {
	if !math.IsFinite(agl) {
		return
	}
	m.agl.Store(agl)
	m.aglSet.Store(true)
}

func (m *Manager) Stats() Stats {
	return Stats{
		Cycles:       m.cycles.Load(),
		Regressions:  m.regressions.Load(),
		ReadTimeouts: m.buf.timeouts(),
		Running:      m.running.Load(),
		Worker:       m.engine.Stats(),
	}
}

// Cycle runs one iteration of the protocol at time now, for tests and
// replays that drive the manager from a single goroutine instead of
// starting it. Once Start has been called the worker owns the model and
// Cycle returns ErrWorkerOwned. It is a no-op once the manager has
// stopped.
func (m *Manager) Cycle(now float64) error {
	if m.started.Load() {
		return ErrWorkerOwned
	}
	return m.cycle(now)
}

// cycle is the worker task.
func (m *Manager) cycle(now float64) error {
	if !m.running.Load() {
		return nil
	}

	dt := now - m.previous
	if !math.IsFinite(now) || dt < 0 {
		m.timingAnomaly(now)
		dt = 0
	}

	if m.aglSet.Load() {
		m.model.SetGroundClearance(m.agl.Load())
	}
	m.model.SetMotors(m.commands[:m.n])
	m.model.Update(dt)

	values, err := m.strategy.ComputeMotorCommands(now, m.observer)
	if err == nil {
		err = control.Validate(values, m.n)
	}
	if err != nil {
		return m.strategyFault(now, values, err)
	}

	copy(m.commands[:], values)
	s := Snapshot{
		Cycle:  m.cycles.Load() + 1,
		Time:   now,
		N:      m.n,
		Motors: m.commands,
		State:  m.model.State(),
	}
	m.buf.publish(&s)
	m.cycles.Store(s.Cycle)

	// A non-finite time never becomes the reference.
	if math.IsFinite(now) && now > m.previous {
		m.previous = now
	}
	return nil
}

func (m *Manager) timingAnomaly(now float64) {
	n := m.regressions.Add(1)
	if time.Since(m.lastWarning) < time.Second {
		return
	}
	m.lg.Warn("clock regression; clamping dt to zero", slog.Float64("now", now),
		slog.Float64("previous", m.previous), slog.Uint64("regressions", n),
		slog.Uint64("unreported", n-m.warnedAt-1))
	m.lastWarning = time.Now()
	m.warnedAt = n
}

func (m *Manager) strategyFault(now float64, values []float64, err error) error {
	m.running.Store(false)
	m.engine.RequestStop()

	f := &StrategyError{
		Cycle:  m.cycles.Load() + 1,
		Time:   now,
		Values: append([]float64(nil), values...),
		Err:    err,
	}
	m.fault.Store(f)

	var sb strings.Builder
	f.Dump(&sb)
	m.lg.Error("control strategy fault; stopping", slog.Any("error", err),
		slog.Uint64("cycle", f.Cycle), slog.String("fault", sb.String()))

	return f
}

// readOnly hides a model's mutators from the strategy.
type readOnly struct {
	o dynamics.Observer
}

func (r readOnly) MotorCount() int          { return r.o.MotorCount() }
func (r readOnly) RotorDirection(i int) int { return r.o.RotorDirection(i) }
func (r readOnly) State() dynamics.State    { return r.o.State() }
func (r readOnly) X(i int) float64          { return r.o.X(i) }
