// telemetry/recorder.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mmp/multicopter/flight"
	"github.com/mmp/multicopter/log"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Recorder writes a zstd-compressed stream of msgpack-encoded Records.
type Recorder struct {
	zw      *zstd.Encoder
	enc     *msgpack.Encoder
	records int
}

func NewRecorder(w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &Recorder{zw: zw, enc: msgpack.NewEncoder(zw)}, nil
}

func (r *Recorder) Write(rec Record) error {
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	r.records++
	return nil
}

func (r *Recorder) Records() int { return r.records }

// Close flushes the stream; it does not close the underlying writer.
func (r *Recorder) Close() error {
	if err := r.zw.Close(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}

// Record samples src rate times per second, writing each newly published
// cycle, until ctx is canceled or src stops running. A final snapshot is
// written on exit so the recording ends with the last published cycle.
func (r *Recorder) Record(ctx context.Context, src Source, rate float64, lg *log.Logger) error {
	defer lg.CatchAndReportCrash()

	if rate <= 0 {
		rate = DefaultRate
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()

	sampler := flight.NewSampler(src)
	var last uint64
	written := false
	write := func() error {
		snap := sampler.Sample()
		if written && snap.Cycle == last {
			return nil
		}
		last, written = snap.Cycle, true
		return r.Write(MakeRecord(snap))
	}

	for {
		select {
		case <-ctx.Done():
			err := write()
			lg.Info("recording finished", slog.Int("records", r.records), slog.Any("sampler", sampler.Stats()))
			return err
		case <-ticker.C:
			if err := write(); err != nil {
				return err
			}
			if !src.Stats().Running {
				lg.Info("recording finished; flight stopped", slog.Int("records", r.records))
				return nil
			}
		}
	}
}

// RecordReader reads back a stream written by Recorder.
type RecordReader struct {
	zr  *zstd.Decoder
	dec *msgpack.Decoder
}

func NewRecordReader(rd io.Reader) (*RecordReader, error) {
	zr, err := zstd.NewReader(rd, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &RecordReader{zr: zr, dec: msgpack.NewDecoder(zr)}, nil
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *RecordReader) Next() (Record, error) {
	var rec Record
	err := r.dec.Decode(&rec)
	return rec, err
}

func (r *RecordReader) Close() {
	r.zr.Close()
}

// ReadRecords reads every record in rd.
func ReadRecords(rd io.Reader) ([]Record, error) {
	rr, err := NewRecordReader(rd)
	if err != nil {
		return nil, err
	}
	defer rr.Close()

	var recs []Record
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		} else if err != nil {
			return recs, fmt.Errorf("failed to decode record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
}
