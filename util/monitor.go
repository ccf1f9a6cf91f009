// util/monitor.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/mmp/multicopter/log"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemStats is a point-in-time view of process resource usage.
type SystemStats struct {
	ProcessCPU    float64 // percent of one core
	SystemCPU     float64 // percent, all cores
	AllocMemory   uint64
	SysMemory     uint64
	NumGC         uint32
	NumGoroutines int
}

func (s SystemStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("process_cpu", s.ProcessCPU),
		slog.Float64("system_cpu", s.SystemCPU),
		slog.Uint64("alloc_mb", s.AllocMemory/(1024*1024)),
		slog.Uint64("sys_mb", s.SysMemory/(1024*1024)),
		slog.Int("goroutines", s.NumGoroutines))
}

// CPUMonitor samples the CPU usage of the current process. The first
// sample after construction covers the time since construction.
type CPUMonitor struct {
	proc *process.Process
}

func MakeCPUMonitor() (*CPUMonitor, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	// Prime the delta-based percentage computation.
	_, _ = p.Percent(0)
	return &CPUMonitor{proc: p}, nil
}

// Sample returns current process and system statistics. A failure to
// query the CPU counters leaves the corresponding fields at zero.
func (m *CPUMonitor) Sample() SystemStats {
	var stats SystemStats
	if m != nil && m.proc != nil {
		stats.ProcessCPU, _ = m.proc.Percent(0)
	}
	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		stats.SystemCPU = usage[0]
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.AllocMemory = mem.Alloc
	stats.SysMemory = mem.Sys
	stats.NumGC = mem.NumGC
	stats.NumGoroutines = runtime.NumGoroutine()
	return stats
}

// MonitorCPUUsage launches a goroutine that samples process CPU usage every
// interval and warns when it exceeds limit percent. A free-running worker
// loop keeps one core busy, so limit should allow 100 per worker plus
// headroom. The goroutine exits when ctx is canceled.
func MonitorCPUUsage(ctx context.Context, limit float64, interval time.Duration, lg *log.Logger) {
	mon, err := MakeCPUMonitor()
	if err != nil {
		lg.Warnf("unable to monitor CPU usage: %v", err)
		return
	}

	go func() {
		defer lg.CatchAndReportCrash()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mon.Sample()
				if stats.ProcessCPU > limit {
					lg.Warn("high CPU usage", slog.Any("stats", stats), slog.Float64("limit", limit))
				} else {
					lg.Debug("CPU usage", slog.Any("stats", stats))
				}
			}
		}
	}()
}
