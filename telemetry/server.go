// telemetry/server.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"text/template"
	"time"

	"github.com/mmp/multicopter/flight"
	"github.com/mmp/multicopter/log"
	"github.com/mmp/multicopter/util"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultRate = 20

// Source is the part of *flight.Manager the telemetry server uses.
type Source interface {
	flight.Source
	Stats() flight.Stats
	MotorCount() int
}

type Config struct {
	// Rate is the number of frames per second sent to websocket clients;
	// zero selects DefaultRate.
	Rate float64
}

type frameKey struct {
	cycle   uint64
	running bool
}

// Server samples a Source at its own rate and serves the frames to
// websocket clients at /telemetry and on demand at /snapshot. It also
// serves a status page at /sup.
type Server struct {
	src     Source
	sampler *flight.Sampler
	room    *Room
	cfg     Config
	lg      *log.Logger
	start   time.Time
	cpu     *util.CPUMonitor

	// Encoded frames, shared by the broadcast loop and /snapshot.
	frames *expirable.LRU[frameKey, []byte]
}

func NewServer(src Source, cfg Config, lg *log.Logger) *Server {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	mon, err := util.MakeCPUMonitor()
	if err != nil {
		lg.Warnf("telemetry: unable to monitor CPU: %v", err)
	}
	return &Server{
		src:     src,
		sampler: flight.NewSampler(src),
		room:    NewRoom(lg),
		cfg:     cfg,
		lg:      lg,
		start:   time.Now(),
		cpu:     mon,
		frames:  expirable.NewLRU[frameKey, []byte](64, nil, time.Minute),
	}
}

func (s *Server) Room() *Room { return s.room }

// Handler returns the HTTP handler for all of the server's endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/telemetry", s.room)
	mux.HandleFunc("/snapshot", s.snapshotHandler)
	mux.HandleFunc("/sup", func(w http.ResponseWriter, r *http.Request) {
		s.statsHandler(w, r)
		s.lg.Infof("%s: served stats request", r.URL.String())
	})
	mux.HandleFunc("/", s.indexHandler)
	return mux
}

// Run services the room and broadcasts frames until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	defer s.lg.CatchAndReportCrash()

	go s.room.Run(ctx)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.Rate))
	defer ticker.Stop()

	var last frameKey
	sent := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := s.sampler.Sample()
			running := s.src.Stats().Running
			key := frameKey{snap.Cycle, running}
			if sent && key == last {
				// Nothing new since the last frame.
				continue
			}
			msg, err := s.encode(snap, running)
			if err != nil {
				return err
			}
			s.room.Broadcast(msg)
			last, sent = key, true
		}
	}
}

// ListenAndServe serves Handler on addr until ctx is canceled. If addr's
// port is in use, the following nine ports are tried. The bound address
// is sent on bound, if non-nil, once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, bound chan<- string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s: bad port: %w", addr, err)
	}

	var listener net.Listener
	for i := range 10 {
		a := net.JoinHostPort(host, strconv.Itoa(p+i))
		if listener, err = net.Listen("tcp", a); err == nil || p == 0 {
			break
		}
	}
	if err != nil {
		return err
	}

	s.lg.Info("telemetry server listening", slog.String("addr", listener.Addr().String()))
	if bound != nil {
		bound <- listener.Addr().String()
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) encode(snap flight.Snapshot, running bool) ([]byte, error) {
	key := frameKey{snap.Cycle, running}
	if b, ok := s.frames.Get(key); ok {
		return b, nil
	}
	b, err := json.Marshal(MakeFrame(snap, running))
	if err != nil {
		return nil, err
	}
	s.frames.Add(key, b)
	return b, nil
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	// The sampler belongs to the broadcast loop, so read directly.
	b, err := s.encode(s.src.Snapshot(), s.src.Stats().Running)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

type serverStats struct {
	Uptime        time.Duration
	System        util.SystemStats
	AllocMemory   uint64
	SysMemory     uint64
	Flight        flight.Stats
	Motors        int
	Clients       int
	CyclesPerSec  float64
	WorstCycle    time.Duration
	LastCycleTime time.Duration
}

var statsTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html>
<head>
<title>multicopter status</title>
</head>
<style>
th, td {
  border: 1px solid #dddddd;
  padding: 6px;
  text-align: left;
}
</style>
<body>
<h1>Process</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>Process CPU: {{printf "%.1f" .System.ProcessCPU}}%</li>
  <li>System CPU: {{printf "%.1f" .System.SystemCPU}}%</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.System.NumGC}}</li>
  <li>Running goroutines: {{.System.NumGoroutines}}</li>
</ul>

<h1>Flight</h1>
<table>
  <tr><th>Running</th><td>{{.Flight.Running}}</td></tr>
  <tr><th>Motors</th><td>{{.Motors}}</td></tr>
  <tr><th>Cycles</th><td>{{.Flight.Cycles}}</td></tr>
  <tr><th>Cycles/sec</th><td>{{printf "%.0f" .CyclesPerSec}}</td></tr>
  <tr><th>Last cycle</th><td>{{.LastCycleTime}}</td></tr>
  <tr><th>Worst cycle</th><td>{{.WorstCycle}}</td></tr>
  <tr><th>Clock regressions</th><td>{{.Flight.Regressions}}</td></tr>
  <tr><th>Read timeouts</th><td>{{.Flight.ReadTimeouts}}</td></tr>
  <tr><th>Telemetry clients</th><td>{{.Clients}}</td></tr>
</table>
</body>
</html>
`))

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	sys := s.cpu.Sample()
	fs := s.src.Stats()
	up := time.Since(s.start)

	stats := serverStats{
		Uptime:        up.Round(time.Second),
		System:        sys,
		AllocMemory:   sys.AllocMemory / (1024 * 1024),
		SysMemory:     sys.SysMemory / (1024 * 1024),
		Flight:        fs,
		Motors:        s.src.MotorCount(),
		Clients:       s.room.Clients(),
		WorstCycle:    fs.Worker.WorstIteration,
		LastCycleTime: fs.Worker.LastIteration,
	}
	if secs := up.Seconds(); secs > 0 {
		stats.CyclesPerSec = float64(fs.Cycles) / secs
	}

	if err := statsTemplate.Execute(w, stats); err != nil {
		s.lg.Errorf("/sup: %v", err)
	}
}

var indexTemplate = template.Must(template.New("").Parse(`<!DOCTYPE html>
<html>
<head><title>multicopter telemetry</title></head>
<body>
<h1>multicopter</h1>
<pre id="frame">waiting for telemetry...</pre>
<p><a href="/sup">status</a></p>
<script>
const ws = new WebSocket("ws://" + location.host + "/telemetry");
ws.onmessage = (ev) => {
  const f = JSON.parse(ev.data);
  const deg = (r) => (r * 180 / Math.PI).toFixed(1);
  document.getElementById("frame").textContent =
    "cycle " + f.cycle + "  t=" + f.time.toFixed(2) + "s" + (f.running ? "" : "  STOPPED") + "\n" +
    "altitude " + f.altitude.toFixed(2) + " m\n" +
    "attitude " + f.attitude.map(deg).join(" ") + " deg\n" +
    "motors   " + f.motors.map((m) => m.toFixed(3)).join(" ");
};
</script>
</body>
</html>
`))

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, nil); err != nil {
		s.lg.Errorf("/: %v", err)
	}
}
