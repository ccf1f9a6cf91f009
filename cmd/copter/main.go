// cmd/copter/main.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// copter runs a multicopter simulation: a flight worker advancing the
// vehicle model under a hover controller, a terminal HUD, and an optional
// websocket telemetry server and flight recorder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmp/multicopter/control"
	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/flight"
	"github.com/mmp/multicopter/hud"
	"github.com/mmp/multicopter/log"
	"github.com/mmp/multicopter/math"
	"github.com/mmp/multicopter/telemetry"
	"github.com/mmp/multicopter/util"

	"github.com/gdamore/tcell/v2"
	"github.com/goforj/godump"
	"github.com/pkg/browser"
	"golang.org/x/sync/errgroup"
)

var (
	logLevel      = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir        = flag.String("logdir", "", "log file directory")
	configFile    = flag.String("config", "", "configuration file (default: user config directory)")
	dumpConfig    = flag.Bool("dumpconfig", false, "print the effective configuration and exit")
	saveConfig    = flag.Bool("saveconfig", false, "write the effective configuration to the config file and exit")
	headless      = flag.Bool("headless", false, "run without the terminal HUD")
	duration      = flag.Duration("duration", 0, "stop the flight after this long (0: run until interrupted)")
	rate          = flag.Float64("rate", -1, "flight worker rate in Hz; 0 runs free (default: from config)")
	seed          = flag.Int64("seed", 0, "turbulence random seed (default: from config)")
	turbulence    = flag.Float64("turbulence", -1, "turbulence strength in m/s^2 (default: from config)")
	telemetryAddr = flag.String("addr", "", "telemetry server address; \"none\" disables it (default: from config)")
	openBrowser   = flag.Bool("open", false, "open the telemetry page in a web browser")
	recordFile    = flag.String("record", "", "write a compressed flight recording to this file")
	cpuprofile    = flag.String("cpuprofile", "", "write CPU profile to file")
	memprofile    = flag.String("memprofile", "", "write memory profile to this file")
)

func main() {
	flag.Parse()

	lg := log.New(*headless, *logLevel, *logDir)

	profiler, err := util.CreateProfiler(*cpuprofile, *memprofile)
	if err != nil {
		lg.Errorf("%v", err)
		fmt.Fprintln(os.Stderr, err)
	}
	defer profiler.Cleanup()

	config, err := LoadOrMakeDefaultConfig(*configFile, lg)
	if err != nil {
		lg.Errorf("%v", err)
		fmt.Fprintf(os.Stderr, "%v; using default configuration\n", err)
	}
	applyFlags(config)

	if *dumpConfig {
		godump.Dump(config)
		return
	}
	if *saveConfig {
		if err := config.Save(*configFile, lg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = fly(ctx, config, lg)
	stop()

	if err != nil {
		lg.Error("flight failed", slog.Any("error", err))
		fmt.Fprintf(os.Stderr, "copter: %v\n", err)
		var serr *flight.StrategyError
		if errors.As(err, &serr) {
			serr.Dump(os.Stderr)
		}
		profiler.Cleanup()
		os.Exit(1)
	}
}

func applyFlags(config *Config) {
	if *rate >= 0 {
		config.Rate = *rate
	}
	if *seed != 0 {
		config.Frame.Seed = *seed
	}
	if *turbulence >= 0 {
		config.Frame.Turbulence = *turbulence
	}
	if *telemetryAddr == "none" {
		config.TelemetryAddr = ""
	} else if *telemetryAddr != "" {
		config.TelemetryAddr = *telemetryAddr
	}
}

// fly runs the flight and everything observing it until the user quits,
// ctx is canceled, the duration elapses, or the flight fails.
func fly(ctx context.Context, config *Config, lg *log.Logger) error {
	model := dynamics.NewMultirotor(config.Frame)

	hover := config.Hover
	if hover.Hover <= 0 {
		hover.Hover = model.HoverCommand()
	}
	strategy, err := control.NewHoverPID(hover, config.Frame.Rotors)
	if err != nil {
		return err
	}

	att := config.InitialAttitude
	mgr, err := flight.NewManager(model, strategy, lg,
		flight.WithRate(config.Rate),
		flight.WithStallWarning(time.Duration(config.StallWarningMs)*time.Millisecond),
		flight.WithRotation(math.Radians(att[0]), math.Radians(att[1]), math.Radians(att[2])))
	if err != nil {
		return err
	}

	var rec *telemetry.Recorder
	if *recordFile != "" {
		f, err := os.Create(*recordFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if rec, err = telemetry.NewRecorder(f); err != nil {
			return err
		}
	}

	var screen tcell.Screen
	if !*headless {
		if screen, err = tcell.NewScreen(); err == nil {
			err = screen.Init()
		}
		if err != nil {
			return fmt.Errorf("unable to initialize terminal: %w", err)
		}
		defer screen.Fini()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if *duration > 0 {
		t := time.AfterFunc(*duration, cancel)
		defer t.Stop()
	}

	eg, ctx := errgroup.WithContext(ctx)

	util.MonitorCPUUsage(ctx, config.CPULimit, 10*time.Second, lg)

	if err := mgr.Start(); err != nil {
		return err
	}
	lg.Info("flight started", slog.Int("motors", mgr.MotorCount()), slog.Float64("rate", config.Rate),
		slog.Any("strategy", strategy))

	// The manager is the root of the group: when it stops, cleanly or not,
	// everything else winds down.
	eg.Go(func() error {
		select {
		case <-mgr.Done():
		case <-ctx.Done():
			mgr.Stop()
		}
		err := mgr.Wait()
		lg.Info("flight finished", slog.Any("stats", mgr.Stats()))
		if err == nil {
			cancel()
		}
		// On failure the group cancels the rest after recording err.
		return err
	})

	if config.TelemetryAddr != "" {
		srv := telemetry.NewServer(mgr, telemetry.Config{Rate: config.TelemetryRate}, lg)
		bound := make(chan string, 1)
		eg.Go(func() error { return srv.Run(ctx) })
		eg.Go(func() error { return srv.ListenAndServe(ctx, config.TelemetryAddr, bound) })
		eg.Go(func() error {
			select {
			case addr := <-bound:
				url := "http://" + addr + "/"
				lg.Infof("telemetry available at %s", url)
				if *headless {
					fmt.Printf("telemetry: %s\n", url)
				}
				if *openBrowser {
					if err := browser.OpenURL(url); err != nil {
						lg.Warnf("%s: unable to open browser: %v", url, err)
					}
				}
			case <-ctx.Done():
			}
			return nil
		})
	}

	if rec != nil {
		eg.Go(func() error {
			err := rec.Record(ctx, mgr, config.RecordRate, lg)
			return errors.Join(err, rec.Close())
		})
	}

	if screen != nil {
		h := hud.New(screen, mgr, hud.Config{
			FrameRate:   config.HUDFrameRate,
			Terrain:     flatGround,
			ProbeHeight: config.ProbeHeight,
		}, lg)
		eg.Go(func() error {
			// Quitting the HUD ends the flight.
			defer cancel()
			return h.Run(ctx)
		})
	}

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func flatGround(north, east float64) float64 { return 0 }
