// log/log_test.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package log

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNilLogger(t *testing.T) {
	var lg *Logger
	// None of these may panic.
	lg.Debug("debug")
	lg.Debugf("debug %d", 1)
	lg.Info("info")
	lg.Infof("info %d", 1)
	if lg.With("k", "v") != nil {
		t.Errorf("expected With on a nil logger to return nil")
	}
}

func TestNewWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	lg := New(false, "debug", dir)
	lg.Info("cycle", slog.Int("n", 7))
	lg.Debugf("value %d", 12)

	if lg.LogFile != filepath.Join(dir, "copter.slog") {
		t.Errorf("unexpected log file %q", lg.LogFile)
	}
	b, err := os.ReadFile(lg.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"msg":"Hello logging"`, `"msg":"cycle"`, `"n":7`, `"msg":"value 12"`, `"callstack"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected log to contain %s", want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	lg := New(false, "warn", t.TempDir())
	lg.Info("quiet")
	lg.Warn("loud")

	b, err := os.ReadFile(lg.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "quiet") {
		t.Errorf("expected info message to be filtered at warn level")
	}
	if !strings.Contains(string(b), "loud") {
		t.Errorf("expected warning to be logged")
	}
}

func TestParseLevel(t *testing.T) {
	for s, l := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	} {
		if got := ParseLevel(s); got != l {
			t.Errorf("%q: expected %v, got %v", s, l, got)
		}
	}
}

func TestCatchAndReportCrash(t *testing.T) {
	dir := t.TempDir()
	lg := New(false, "info", dir)

	func() {
		defer lg.CatchAndReportCrash()
		panic(errors.New("rotor fell off"))
	}()

	matches, err := filepath.Glob(filepath.Join(dir, "crash-*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected a crash report in %s", dir)
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "Crashed: rotor fell off") {
		t.Errorf("unexpected crash report: %s", b)
	}
}
