// util/prof.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"fmt"
	"os"
	"runtime/pprof"
)

// Profiler collects optional CPU and heap profiles for the lifetime of a
// run; Cleanup writes them out.
type Profiler struct {
	cpu, mem *os.File
}

// CreateProfiler starts CPU profiling to cpu and arranges for a heap
// profile to be written to mem at Cleanup. Either filename may be empty.
func CreateProfiler(cpu, mem string) (Profiler, error) {
	p := Profiler{}

	var err error
	if cpu != "" {
		if p.cpu, err = os.Create(cpu); err != nil {
			return Profiler{}, fmt.Errorf("%s: unable to create CPU profile file: %w", cpu, err)
		} else if err = pprof.StartCPUProfile(p.cpu); err != nil {
			p.cpu.Close()
			return Profiler{}, fmt.Errorf("unable to start CPU profile: %w", err)
		}
	}

	if mem != "" {
		if p.mem, err = os.Create(mem); err != nil {
			p.Cleanup()
			return Profiler{}, fmt.Errorf("%s: unable to create memory profile file: %w", mem, err)
		}
	}

	return p, nil
}

// Cleanup stops profiling and closes the profile files. It is safe to
// call more than once.
func (p *Profiler) Cleanup() {
	if p.cpu != nil {
		pprof.StopCPUProfile()
		p.cpu.Close()
		p.cpu = nil
	}
	if p.mem != nil {
		if err := pprof.WriteHeapProfile(p.mem); err != nil {
			fmt.Fprintf(os.Stderr, "unable to write memory profile file: %v", err)
		}
		p.mem.Close()
		p.mem = nil
	}
}
