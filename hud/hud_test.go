// hud/hud_test.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package hud

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/flight"

	"github.com/gdamore/tcell/v2"
)

type fakeSource struct {
	mu      sync.Mutex
	snap    flight.Snapshot
	stopped bool
	agl     []float64
}

func (f *fakeSource) Snapshot() flight.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) RotorDirections() []int { return []int{1, -1, 1, -1} }

func (f *fakeSource) Stats() flight.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return flight.Stats{Cycles: f.snap.Cycle, Running: !f.stopped}
}

func (f *fakeSource) SetGroundClearance(agl float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agl = append(f.agl, agl)
}

func (f *fakeSource) set(cycle uint64, altitude float64, motors ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = flight.Snapshot{Cycle: cycle, Time: float64(cycle) / 100, N: len(motors)}
	copy(f.snap.Motors[:], motors)
	f.snap.State[dynamics.StateZ] = -altitude
}

func newScreen(t *testing.T) tcell.Screen {
	t.Helper()
	s := tcell.NewSimulationScreen("")
	if err := s.Init(); err != nil {
		t.Fatalf("screen init: %v", err)
	}
	t.Cleanup(s.Fini)
	return s
}

func row(s tcell.Screen, y int) string {
	var sb strings.Builder
	w, _ := s.Size()
	for x := range w {
		r, _, _, _ := s.GetContent(x, y)
		sb.WriteRune(r)
	}
	return sb.String()
}

func screenText(s tcell.Screen) string {
	var lines []string
	_, h := s.Size()
	for y := range h {
		lines = append(lines, row(s, y))
	}
	return strings.Join(lines, "\n")
}

func TestFrameDrawsMotorsAndPose(t *testing.T) {
	src := &fakeSource{}
	src.set(7, 2, 0, 0.25, 0.5, 1)
	screen := newScreen(t)

	h := New(screen, src, Config{}, nil)
	h.Frame()

	if r := row(screen, 0); !strings.Contains(r, "cycle 7") {
		t.Errorf("expected header to show the cycle, got %q", r)
	}
	if r := row(screen, 3); !strings.Contains(r, "alt") || !strings.Contains(r, "2.00") {
		t.Errorf("expected altitude 2.00, got %q", r)
	}
	for i, expected := range []string{"M1  CW", "M2  CCW", "M3  CW", "M4  CCW"} {
		if r := row(screen, 8+i); !strings.Contains(r, expected) {
			t.Errorf("motor row %d: expected %q, got %q", i, expected, r)
		}
	}
	if r := row(screen, 11); !strings.Contains(r, "1.000") {
		t.Errorf("expected full command on M4, got %q", r)
	}
	if txt := screenText(screen); strings.Contains(txt, "STOPPED") {
		t.Errorf("did not expect STOPPED while running")
	}

	src.mu.Lock()
	src.stopped = true
	src.mu.Unlock()
	h.Frame()
	if txt := screenText(screen); !strings.Contains(txt, "STOPPED") {
		t.Errorf("expected STOPPED once the source stops")
	}
}

func TestTerrainReportsClearance(t *testing.T) {
	src := &fakeSource{}
	src.set(1, 0, 0, 0, 0, 0)
	screen := newScreen(t)

	h := New(screen, src, Config{
		Terrain:     func(north, east float64) float64 { return 0 },
		ProbeHeight: 0.5,
	}, nil)

	h.Frame()
	src.set(2, 3, 0.6, 0.6, 0.6, 0.6)
	h.Frame()

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.agl) != 2 || src.agl[0] != 0 || src.agl[1] != 3 {
		t.Errorf("expected ground clearances [0 3], got %v", src.agl)
	}
}

func runHUD(t *testing.T, ctx context.Context, h *HUD) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	return done
}

func awaitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("HUD did not exit")
		return nil
	}
}

func TestQuitKeys(t *testing.T) {
	for _, ev := range []*tcell.EventKey{
		tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone),
		tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone),
	} {
		src := &fakeSource{}
		src.set(0, 0, 0, 0, 0, 0)
		screen := newScreen(t)
		h := New(screen, src, Config{FrameRate: 100}, nil)

		done := runHUD(t, context.Background(), h)
		if err := screen.PostEvent(ev); err != nil {
			t.Fatalf("PostEvent: %v", err)
		}
		if err := awaitRun(t, done); err != nil {
			t.Errorf("expected nil after quitting, got %v", err)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	src.set(0, 0, 0, 0, 0, 0)
	screen := newScreen(t)
	h := New(screen, src, Config{FrameRate: 100}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runHUD(t, ctx, h)

	// Let a few frames go by with the source advancing.
	for i := range 5 {
		src.set(uint64(i+1), 1, 0.5, 0.5, 0.5, 0.5)
		time.Sleep(15 * time.Millisecond)
	}
	cancel()

	if err := awaitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if st := h.sampler.Stats(); st.Frames < 2 {
		t.Errorf("expected several frames, got %+v", st)
	}
}
