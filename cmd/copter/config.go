// cmd/copter/config.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mmp/multicopter/control"
	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/log"

	"github.com/brunoga/deep"
)

const CurrentConfigVersion = 1

type Config struct {
	Version int

	// Frame describes the simulated vehicle.
	Frame dynamics.FrameParams
	// Hover configures the flight controller. A zero Hover command is
	// replaced with the frame's computed hover command.
	Hover control.HoverConfig
	// InitialAttitude is roll, pitch, and yaw at startup, in degrees.
	InitialAttitude [3]float64

	// Rate limits the flight worker, in cycles per second; zero runs it
	// free.
	Rate float64
	// StallWarningMs is the cycle duration that triggers a warning.
	StallWarningMs int

	HUDFrameRate  float64
	ProbeHeight   float64
	TelemetryAddr string
	TelemetryRate float64
	RecordRate    float64

	// CPULimit is the process CPU percentage above which usage is logged
	// as a warning.
	CPULimit float64
}

var defaultConfig = Config{
	Version:        CurrentConfigVersion,
	Frame:          dynamics.QuadXAP(),
	Hover:          control.DefaultHoverConfig(),
	Rate:           1000,
	StallWarningMs: 200,
	HUDFrameRate:   30,
	ProbeHeight:    0.1,
	TelemetryAddr:  "localhost:6502",
	TelemetryRate:  20,
	RecordRate:     100,
	CPULimit:       150,
}

func init() {
	// The flight controller computes hover from the frame unless told
	// otherwise.
	defaultConfig.Hover.Hover = 0
}

func getDefaultConfig() *Config {
	c := deep.MustCopy(defaultConfig)
	return &c
}

func configFilePath(lg *log.Logger) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		lg.Errorf("Unable to find user config dir: %v", err)
		dir = "."
	}

	dir = filepath.Join(dir, "Multicopter")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		lg.Errorf("%s: unable to make directory for config file: %v", dir, err)
	}

	return filepath.Join(dir, "config.json")
}

// LoadOrMakeDefaultConfig reads the config file at fn, or the default
// location if fn is empty. A missing file yields the defaults without an
// error; an unreadable or invalid one yields the defaults and the error.
func LoadOrMakeDefaultConfig(fn string, lg *log.Logger) (*Config, error) {
	if fn == "" {
		fn = configFilePath(lg)
	}
	lg.Infof("Loading config from: %s", fn)

	contents, err := os.ReadFile(fn)
	if errors.Is(err, fs.ErrNotExist) {
		lg.Infof("%s: no config file; using defaults", fn)
		return getDefaultConfig(), nil
	} else if err != nil {
		return getDefaultConfig(), err
	}

	// Start from the defaults so fields missing from the file keep their
	// default values.
	config := getDefaultConfig()
	d := json.NewDecoder(bytes.NewReader(contents))
	d.DisallowUnknownFields()
	if err := d.Decode(config); err != nil {
		return getDefaultConfig(), fmt.Errorf("%s: %w", fn, err)
	}

	if config.Version > CurrentConfigVersion {
		lg.Warnf("%s: config version %d is newer than this build's %d", fn, config.Version, CurrentConfigVersion)
	}
	config.Version = CurrentConfigVersion

	if err := config.Validate(); err != nil {
		return getDefaultConfig(), fmt.Errorf("%s: %w", fn, err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if len(c.Frame.Rotors) == 0 {
		return errors.New("frame has no rotors")
	}
	if c.Frame.Mass <= 0 || c.Frame.B <= 0 || c.Frame.MaxOmega <= 0 {
		return errors.New("frame mass, thrust coefficient, and max omega must be positive")
	}
	if c.Frame.Ix <= 0 || c.Frame.Iy <= 0 || c.Frame.Iz <= 0 {
		return errors.New("frame moments of inertia must be positive")
	}
	return nil
}

func (c *Config) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(c)
}

func (c *Config) Save(fn string, lg *log.Logger) error {
	if fn == "" {
		fn = configFilePath(lg)
	}
	lg.Infof("Saving config to: %s", fn)
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()

	return c.Encode(f)
}
