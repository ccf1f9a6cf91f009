// worker/engine.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package worker runs a task repeatedly on a dedicated goroutine until it
// is asked to stop, the task fails, or the task panics.
package worker

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmp/multicopter/log"
	"github.com/mmp/multicopter/util"
)

// Task is invoked once per iteration with the clock's current time. A
// non-nil error ends the loop and is returned from Join.
type Task func(now float64) error

type Config struct {
	// Rate limits iterations to this many per second; zero or negative
	// runs back-to-back as fast as the scheduler allows.
	Rate float64
	// StallWarning is the iteration duration above which a warning is
	// logged. Zero selects DefaultStallWarning; negative disables it.
	StallWarning time.Duration
}

const DefaultStallWarning = 200 * time.Millisecond

type Stats struct {
	Iterations     uint64
	LastIteration  time.Duration
	WorstIteration time.Duration
	Running        bool
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("iterations", s.Iterations),
		slog.Duration("last", s.LastIteration),
		slog.Duration("worst", s.WorstIteration),
		slog.Bool("running", s.Running))
}

// Engine owns one worker goroutine. Task invocations never overlap and no
// invocation begins after a stop request has been observed.
type Engine struct {
	clock Clock
	cfg   Config
	lg    *log.Logger

	mu      sync.Mutex
	started bool
	stop    util.AtomicBool
	running util.AtomicBool
	done    chan struct{}
	err     error // written by the worker before done is closed

	iterations atomic.Uint64
	last       atomic.Int64
	worst      atomic.Int64
}

func NewEngine(clock Clock, cfg Config, lg *log.Logger) *Engine {
	if clock == nil {
		clock = NewMonotonicClock()
	}
	if cfg.StallWarning == 0 {
		cfg.StallWarning = DefaultStallWarning
	}
	return &Engine{
		clock: clock,
		cfg:   cfg,
		lg:    lg,
		done:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. An engine runs at most once.
func (e *Engine) Start(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	if e.stop.Load() {
		return ErrStopped
	}
	e.started = true
	e.running.Store(true)

	go e.run(task)

	return nil
}

// RequestStop asks the worker to exit after its current iteration. It may
// be called from any goroutine, any number of times, before or after
// Start.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// Join waits for the worker goroutine to exit and returns the error that
// ended it, if any. It returns nil immediately if Start was never called.
func (e *Engine) Join() error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	if !started {
		return nil
	}
	<-e.done
	return e.err
}

// Done returns a channel that is closed when the worker goroutine exits.
// It is never closed if the engine is never started.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Stats() Stats {
	return Stats{
		Iterations:     e.iterations.Load(),
		LastIteration:  time.Duration(e.last.Load()),
		WorstIteration: time.Duration(e.worst.Load()),
		Running:        e.running.Load(),
	}
}

func (e *Engine) run(task Task) {
	defer close(e.done)
	defer e.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			e.lg.ReportCrash(r, stack)
			e.err = &PanicError{Value: r, Stack: stack}
		}
	}()

	var period time.Duration
	if e.cfg.Rate > 0 {
		period = time.Duration(float64(time.Second) / e.cfg.Rate)
	}
	e.lg.Info("worker started", slog.Float64("rate", e.cfg.Rate))

	next := time.Now()
	for !e.stop.Load() {
		start := time.Now()

		if err := task(e.clock.Now()); err != nil {
			e.lg.Warn("worker task failed", slog.Any("error", err),
				slog.Uint64("iterations", e.iterations.Load()))
			e.err = err
			return
		}

		d := time.Since(start)
		e.iterations.Add(1)
		e.last.Store(int64(d))
		if int64(d) > e.worst.Load() {
			e.worst.Store(int64(d))
		}
		if e.cfg.StallWarning > 0 && d > e.cfg.StallWarning && !util.DebuggerIsRunning() {
			e.lg.Warn("unexpectedly long worker iteration", slog.Duration("duration", d),
				slog.Uint64("iterations", e.iterations.Load()))
		}

		if period > 0 {
			next = next.Add(period)
			if wait := time.Until(next); wait > 0 {
				time.Sleep(wait)
			} else {
				// Fell behind; don't try to catch up with a burst.
				next = time.Now()
			}
		}
	}

	e.lg.Info("worker stopped", slog.Any("stats", e.Stats()))
}
