// hud/hud.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package hud is a terminal consumer of the flight manager: it samples
// the published snapshot at its own frame rate and draws motor activity
// and vehicle pose.
package hud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/flight"
	"github.com/mmp/multicopter/log"
	"github.com/mmp/multicopter/math"

	"github.com/gdamore/tcell/v2"
)

const DefaultFrameRate = 30

// Source is the part of *flight.Manager the HUD uses.
type Source interface {
	flight.Source
	Stats() flight.Stats
	SetGroundClearance(agl float64)
}

type Config struct {
	// FrameRate is the number of redraws per second; zero selects
	// DefaultFrameRate.
	FrameRate float64
	// Terrain, if set, returns the ground elevation (meters, up) under the
	// given north/east position; the HUD then reports ground clearance to
	// the source each frame.
	Terrain func(north, east float64) float64
	// ProbeHeight is the height of the downward ground probe above the
	// vehicle's reference point.
	ProbeHeight float64
}

type HUD struct {
	screen  tcell.Screen
	src     Source
	sampler *flight.Sampler
	cfg     Config
	lg      *log.Logger

	agl  flight.AGLTracker
	spin []float64
	avg  [flight.MaxMotors]float64
}

// New returns a HUD drawing to screen, which must already be initialized.
func New(screen tcell.Screen, src Source, cfg Config, lg *log.Logger) *HUD {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	s := flight.NewSampler(src)
	return &HUD{
		screen:  screen,
		src:     src,
		sampler: s,
		cfg:     cfg,
		lg:      lg,
		spin:    make([]float64, len(s.RotorDirections())),
	}
}

// Run redraws until the user quits with Esc, q, or Ctrl-C, or ctx is
// canceled. Quitting returns nil. A stopped source is shown as such but
// does not end Run.
func (h *HUD) Run(ctx context.Context) error {
	defer h.lg.CatchAndReportCrash()

	events := make(chan tcell.Event, 16)
	go func() {
		for {
			// PollEvent returns nil once the screen is finalized.
			ev := h.screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / h.cfg.FrameRate))
	defer ticker.Stop()

	h.lg.Info("hud started", slog.Float64("frame_rate", h.cfg.FrameRate))
	h.Frame()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if h.handleEvent(ev) {
				h.lg.Info("hud quit by user", slog.Any("sampler", h.sampler.Stats()))
				return nil
			}

		case <-ticker.C:
			h.Frame()
		}
	}
}

// handleEvent returns true if the user asked to quit.
func (h *HUD) handleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		h.screen.Sync()
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return true
		case tcell.KeyRune:
			return ev.Rune() == 'q' || ev.Rune() == 'Q'
		}
	}
	return false
}

// Frame samples the source once and redraws the screen.
func (h *HUD) Frame() {
	snap := h.sampler.Sample()

	if h.cfg.Terrain != nil {
		s := snap.State
		ground := h.cfg.Terrain(s[dynamics.StateX], s[dynamics.StateY])
		if agl := h.agl.Update(s.Altitude() + h.cfg.ProbeHeight - ground); math.IsFinite(agl) {
			h.src.SetGroundClearance(agl)
		}
	}

	n := h.sampler.Average(h.avg[:])
	dirs := h.sampler.RotorDirections()
	for i := range min(n, len(h.spin)) {
		// Spin phase advances with the smoothed command; purely visual.
		h.spin[i] += float64(dirs[i]) * h.avg[i]
	}

	h.draw(snap, n)
	h.screen.Show()
}

var (
	styleDefault = tcell.StyleDefault
	styleHeader  = tcell.StyleDefault.Bold(true).Reverse(true)
	styleLabel   = tcell.StyleDefault.Foreground(tcell.ColorTeal)
	styleBar     = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleHelp    = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleStopped = tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
)

const spinGlyphs = `|/-\`

func (h *HUD) draw(snap flight.Snapshot, n int) {
	h.screen.Clear()
	width, height := h.screen.Size()

	title := fmt.Sprintf(" multicopter  cycle %d  t=%.2fs", snap.Cycle, snap.Time)
	help := "Esc/q: quit "
	drawText(h.screen, 0, 0, width, styleHeader,
		title+strings.Repeat(" ", max(0, width-len(title)-len(help)))+help)

	s := snap.State
	att := s.Attitude()
	drawText(h.screen, 0, 2, width, styleLabel, "Position (NED, m)")
	drawText(h.screen, 0, 3, width, styleDefault, fmt.Sprintf("  N %8.2f  E %8.2f  alt %8.2f",
		s[dynamics.StateX], s[dynamics.StateY], s.Altitude()))
	drawText(h.screen, 0, 4, width, styleLabel, "Attitude (deg)")
	drawText(h.screen, 0, 5, width, styleDefault, fmt.Sprintf("  roll %7.2f  pitch %7.2f  yaw %7.2f",
		math.Degrees(att[0]), math.Degrees(att[1]), math.Degrees(att[2])))

	drawText(h.screen, 0, 7, width, styleLabel, "Motors")
	barWidth := max(10, min(50, width-30))
	dirs := h.sampler.RotorDirections()
	cmds := snap.Commands()
	for i := range cmds {
		y := 8 + i
		if y >= height-2 {
			break
		}
		glyph := ' '
		if i < n && i < len(h.spin) {
			idx := int(h.spin[i]*4) % len(spinGlyphs)
			if idx < 0 {
				idx += len(spinGlyphs)
			}
			glyph = rune(spinGlyphs[idx])
		}
		dir := "CW "
		if i < len(dirs) && dirs[i] < 0 {
			dir = "CCW"
		}
		filled := int(math.Clamp(cmds[i], 0, 1)*float64(barWidth) + 0.5)
		drawText(h.screen, 0, y, 12, styleDefault, fmt.Sprintf("  M%-2d %s %c", i+1, dir, glyph))
		drawText(h.screen, 12, y, barWidth, styleBar, strings.Repeat("█", filled))
		drawText(h.screen, 13+barWidth, y, width-13-barWidth, styleDefault, fmt.Sprintf("%5.3f", cmds[i]))
	}

	st := h.src.Stats()
	ss := h.sampler.Stats()
	status := fmt.Sprintf(" frames %d  skipped %d  repeated %d  timeouts %d  regressions %d  intensity %.2f",
		ss.Frames, ss.Skipped, ss.Repeated, st.ReadTimeouts, st.Regressions, h.sampler.Intensity())
	drawText(h.screen, 0, height-1, width, styleHelp, status)
	if !st.Running {
		drawText(h.screen, 0, height-2, width, styleStopped, " STOPPED")
	}
}

// drawText draws text at (x, y), clipped to maxWidth and padded with
// spaces to fill it.
func drawText(screen tcell.Screen, x, y, maxWidth int, style tcell.Style, text string) {
	col := 0
	for _, r := range text {
		if col >= maxWidth {
			break
		}
		screen.SetContent(x+col, y, r, nil, style)
		col++
	}
	for col < maxWidth {
		screen.SetContent(x+col, y, ' ', nil, style)
		col++
	}
}
