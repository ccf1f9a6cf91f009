// telemetry/frame.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package telemetry publishes flight snapshots to remote viewers over
// websockets, serves a status page, and records snapshot streams to disk.
package telemetry

import (
	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/flight"
)

// Frame is the JSON message sent to websocket clients for each sampled
// snapshot.
type Frame struct {
	Cycle    uint64     `json:"cycle"`
	Time     float64    `json:"time"`
	Motors   []float64  `json:"motors"`
	Position [3]float64 `json:"position"`
	Attitude [3]float64 `json:"attitude"`
	Altitude float64    `json:"altitude"`
	Running  bool       `json:"running"`
}

func MakeFrame(s flight.Snapshot, running bool) Frame {
	return Frame{
		Cycle:    s.Cycle,
		Time:     s.Time,
		Motors:   append([]float64(nil), s.Commands()...),
		Position: s.State.Position(),
		Attitude: s.State.Attitude(),
		Altitude: s.State.Altitude(),
		Running:  running,
	}
}

// Record is one entry in a recorded snapshot stream.
type Record struct {
	Cycle  uint64                     `msgpack:"c"`
	Time   float64                    `msgpack:"t"`
	Motors []float64                  `msgpack:"m"`
	State  [dynamics.StateDim]float64 `msgpack:"s"`
}

func MakeRecord(s flight.Snapshot) Record {
	return Record{
		Cycle:  s.Cycle,
		Time:   s.Time,
		Motors: append([]float64(nil), s.Commands()...),
		State:  s.State,
	}
}
