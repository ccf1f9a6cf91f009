// util/sync.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"encoding/json"
	"log/slog"
	gomath "math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmp/multicopter/log"

	"github.com/shirou/gopsutil/v3/cpu"
)

///////////////////////////////////////////////////////////////////////////
// AtomicBool

// AtomicBool is a simple wrapper around atomic.Bool that adds support for
// JSON marshaling/unmarshaling.
type AtomicBool struct {
	atomic.Bool
}

func (a *AtomicBool) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Load())
}

func (a *AtomicBool) UnmarshalJSON(data []byte) error {
	var b bool
	err := json.Unmarshal(data, &b)
	if err == nil {
		a.Store(b)
	}
	return err
}

///////////////////////////////////////////////////////////////////////////
// AtomicFloat64

// AtomicFloat64 stores a float64 atomically via its IEEE-754 bits and,
// like AtomicBool, supports JSON marshaling/unmarshaling.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

func (a *AtomicFloat64) Load() float64 {
	return gomath.Float64frombits(a.bits.Load())
}

func (a *AtomicFloat64) Store(v float64) {
	a.bits.Store(gomath.Float64bits(v))
}

func (a *AtomicFloat64) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Load())
}

func (a *AtomicFloat64) UnmarshalJSON(data []byte) error {
	var f float64
	err := json.Unmarshal(data, &f)
	if err == nil {
		a.Store(f)
	}
	return err
}

///////////////////////////////////////////////////////////////////////////
// LoggingMutex

var heldMutexesMutex sync.Mutex
var heldMutexes map[*LoggingMutex]interface{} = make(map[*LoggingMutex]interface{})

// LoggingMutex is a mutex that logs acquisition and release at debug
// level and reports (with held mutexes and system load) when it cannot be
// acquired within LockTimeout. It is meant for low-frequency locks such as
// lifecycle transitions, not for per-cycle hot paths.
type LoggingMutex struct {
	sync.Mutex
	acq      time.Time
	acqStack []log.StackFrame
}

const LockTimeout = 10 * time.Second

func (l *LoggingMutex) Lock(lg *log.Logger) {
	tryTime := time.Now()
	lg.Debug("attempting to acquire mutex", slog.Any("mutex", l))

	if !l.Mutex.TryLock() {
		// Lock with timeout.
		locked := make(chan struct{}, 1)

		go func() {
			l.Mutex.Lock()
			locked <- struct{}{}
		}()

		select {
		case <-locked:

		case <-time.After(LockTimeout):
			heldMutexesMutex.Lock()
			lg.Error("unable to acquire mutex", slog.Duration("timeout", LockTimeout),
				slog.Any("mutex", l), slog.Int("held_mutexes", len(heldMutexes)))
			heldMutexesMutex.Unlock()

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			usage, _ := cpu.Percent(time.Second, false)
			if len(usage) == 0 {
				usage = []float64{0}
			}

			lg.Errorf("CPU: %d%% alloc: %dMB total alloc: %dMB sys mem: %dMB goroutines: %d",
				int(gomath.Round(usage[0])), m.Alloc/(1024*1024), m.TotalAlloc/(1024*1024), m.Sys/(1024*1024),
				runtime.NumGoroutine())

			// Keep waiting; the report above is all we can do.
			<-locked
		}
	}

	heldMutexesMutex.Lock()
	heldMutexes[l] = nil
	heldMutexesMutex.Unlock()

	l.acq = time.Now()
	l.acqStack = log.Callstack(l.acqStack)
	w := l.acq.Sub(tryTime)
	lg.Debug("acquired mutex", slog.Any("mutex", l), slog.Duration("wait", w))
	if w > time.Second {
		lg.Warn("long wait to acquire mutex", slog.Any("mutex", l), slog.Duration("wait", w))
	}
}

func (l *LoggingMutex) Unlock(lg *log.Logger) {
	heldMutexesMutex.Lock()
	// Holding this until we return keeps other mutexes from being released
	// while we may be logging the held ones.
	defer heldMutexesMutex.Unlock()

	if _, ok := heldMutexes[l]; !ok {
		lg.Error("mutex not held", slog.Int("held_mutexes", len(heldMutexes)))
	}
	delete(heldMutexes, l)

	if d := time.Since(l.acq); d > time.Second {
		lg.Warn("mutex held for over 1 second", slog.Any("mutex", l), slog.Duration("held", d))
	}

	l.acq = time.Time{}
	l.acqStack = nil
	l.Mutex.Unlock()

	lg.Debug("released mutex", slog.Any("mutex", l))
}

func (l *LoggingMutex) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Time("acq", l.acq),
		slog.Duration("held", time.Since(l.acq)),
		slog.Any("acq_stack", l.acqStack))
}
