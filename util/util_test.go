// util/util_test.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAtomicBoolJSON(t *testing.T) {
	type status struct {
		Running AtomicBool
	}
	var s status
	s.Running.Store(true)

	b, err := json.Marshal(&s)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"Running":true}` {
		t.Errorf("unexpected encoding %s", b)
	}

	var r status
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatal(err)
	}
	if !r.Running.Load() {
		t.Errorf("expected true after round trip")
	}

	if err := json.Unmarshal([]byte(`{"Running":"yes"}`), &r); err == nil {
		t.Errorf("expected an error decoding a string")
	}
	if !r.Running.Load() {
		t.Errorf("expected a failed decode to leave the value alone")
	}
}

func TestAtomicFloat64(t *testing.T) {
	var a AtomicFloat64
	if a.Load() != 0 {
		t.Errorf("expected zero value 0, got %f", a.Load())
	}
	for _, v := range []float64{1.5, -2, math.Inf(1), 0} {
		a.Store(v)
		if a.Load() != v {
			t.Errorf("expected %f, got %f", v, a.Load())
		}
	}
	a.Store(math.NaN())
	if !math.IsNaN(a.Load()) {
		t.Errorf("expected NaN, got %f", a.Load())
	}

	a.Store(2.5)
	b, err := json.Marshal(&a)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "2.5" {
		t.Errorf("unexpected encoding %s", b)
	}
	var r AtomicFloat64
	if err := json.Unmarshal([]byte("-0.75"), &r); err != nil {
		t.Fatal(err)
	}
	if r.Load() != -0.75 {
		t.Errorf("expected -0.75, got %f", r.Load())
	}
	if err := json.Unmarshal([]byte(`"high"`), &r); err == nil || r.Load() != -0.75 {
		t.Errorf("expected a failed decode to leave the value alone, got %v %f", err, r.Load())
	}
}

func TestLoggingMutex(t *testing.T) {
	var mu LoggingMutex
	count := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				mu.Lock(nil)
				count++
				mu.Unlock(nil)
			}
		}()
	}
	wg.Wait()

	if count != 800 {
		t.Errorf("expected 800, got %d", count)
	}

	heldMutexesMutex.Lock()
	defer heldMutexesMutex.Unlock()
	if _, ok := heldMutexes[&mu]; ok {
		t.Errorf("expected mutex to be released from the held set")
	}
}

func TestCPUMonitor(t *testing.T) {
	mon, err := MakeCPUMonitor()
	if err != nil {
		t.Skipf("process stats unavailable: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	s := mon.Sample()
	if s.ProcessCPU < 0 || s.NumGoroutines < 1 || s.SysMemory == 0 {
		t.Errorf("unexpected stats %+v", s)
	}

	var nilmon *CPUMonitor
	if s := nilmon.Sample(); s.ProcessCPU != 0 || s.NumGoroutines < 1 {
		t.Errorf("expected a nil monitor to report only memory and goroutines, got %+v", s)
	}
}

func TestMonitorCPUUsageStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	MonitorCPUUsage(ctx, 0, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)
	cancel()
}

func TestProfiler(t *testing.T) {
	dir := t.TempDir()
	cpu, mem := filepath.Join(dir, "cpu.prof"), filepath.Join(dir, "mem.prof")

	p, err := CreateProfiler(cpu, mem)
	if err != nil {
		t.Fatal(err)
	}
	p.Cleanup()
	p.Cleanup()

	for _, fn := range []string{cpu, mem} {
		if fi, err := os.Stat(fn); err != nil {
			t.Errorf("%s: %v", fn, err)
		} else if fi.Size() == 0 {
			t.Errorf("%s: expected a non-empty profile", fn)
		}
	}

	if _, err := CreateProfiler("", filepath.Join(dir, "missing", "mem.prof")); err == nil {
		t.Errorf("expected an error for an uncreatable file")
	}
}
