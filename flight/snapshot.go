// flight/snapshot.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package flight

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmp/multicopter/dynamics"
)

// MaxMotors bounds the number of motors a manager can drive.
const MaxMotors = 16

// DefaultReadTimeout bounds how long a consumer read waits for the writer
// before falling back to the last known-good snapshot.
const DefaultReadTimeout = 2 * time.Millisecond

// Snapshot is everything one cycle publishes: the motor commands it
// computed and the model state they were computed from.
type Snapshot struct {
	// Cycle counts published cycles; zero means nothing has been
	// published yet and Motors holds the initial zero commands.
	Cycle  uint64
	Time   float64
	N      int
	Motors [MaxMotors]float64
	State  dynamics.State
}

// Commands returns the N active motor commands. The slice aliases s.
func (s *Snapshot) Commands() []float64 {
	return s.Motors[:s.N]
}

func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("cycle", s.Cycle),
		slog.Float64("time", s.Time),
		slog.Any("motors", s.Motors[:s.N]),
		slog.Any("state", s.State))
}

// commandBuffer hands snapshots from the single writer to any number of
// readers. The mutex is only ever held for a fixed-size struct copy, so
// the writer's wait is bounded; readers additionally bound their own
// wait and fall back to the most recent snapshot any reader obtained.
type commandBuffer struct {
	mu   sync.Mutex
	snap Snapshot

	lastGood    atomic.Pointer[Snapshot] // immutable once stored
	timeout     time.Duration
	readTimeout atomic.Uint64
}

func (b *commandBuffer) publish(s *Snapshot) {
	b.mu.Lock()
	b.snap = *s
	b.mu.Unlock()
}

func (b *commandBuffer) read() Snapshot {
	var deadline time.Time
	for {
		if b.mu.TryLock() {
			s := b.snap
			b.mu.Unlock()

			b.remember(s)
			return s
		}

		if deadline.IsZero() {
			deadline = time.Now().Add(b.timeout)
		} else if time.Now().After(deadline) {
			b.readTimeout.Add(1)
			if lg := b.lastGood.Load(); lg != nil {
				return *lg
			}
			return Snapshot{}
		}
		runtime.Gosched()
	}
}

// remember records s as the last known-good snapshot unless a newer one
// is already there.
func (b *commandBuffer) remember(s Snapshot) {
	for {
		old := b.lastGood.Load()
		if old != nil && old.Cycle >= s.Cycle {
			return
		}
		if b.lastGood.CompareAndSwap(old, &s) {
			return
		}
	}
}

func (b *commandBuffer) timeouts() uint64 {
	return b.readTimeout.Load()
}
