// telemetry/telemetry_test.go
// Copyright(c) 2024-2025 multicopter contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mmp/multicopter/control"
	"github.com/mmp/multicopter/dynamics"
	"github.com/mmp/multicopter/flight"

	"github.com/gorilla/websocket"
)

// newFlight returns a manager over the reference quad that the test
// drives by hand, one Cycle per call to step.
func newFlight(t *testing.T) (*flight.Manager, func(n int)) {
	t.Helper()
	model := dynamics.NewMultirotor(dynamics.QuadXAP())
	h := model.HoverCommand()
	m, err := flight.NewManager(model, control.Constant{h, h, h, h}, nil)
	if err != nil {
		t.Fatal(err)
	}
	now := 0.0
	step := func(n int) {
		for range n {
			if err := m.Cycle(now); err != nil {
				t.Fatal(err)
			}
			now += 0.01
		}
	}
	return m, step
}

func TestRecorderRoundTrip(t *testing.T) {
	m, step := newFlight(t)

	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var expected []Record
	for range 3 {
		step(5)
		r := MakeRecord(m.Snapshot())
		expected = append(expected, r)
		if err := rec.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	recs, err := ReadRecords(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != len(expected) {
		t.Fatalf("expected %d records, got %d", len(expected), len(recs))
	}
	for i := range recs {
		e, g := expected[i], recs[i]
		if g.Cycle != e.Cycle || g.Time != e.Time || g.State != e.State || !slices.Equal(g.Motors, e.Motors) {
			t.Errorf("record %d: expected %+v, got %+v", i, e, g)
		}
	}
	if recs[2].Cycle != 15 {
		t.Errorf("expected the last record from cycle 15, got %d", recs[2].Cycle)
	}
}

func TestRecordEndsWhenFlightStops(t *testing.T) {
	m, step := newFlight(t)
	step(10)
	m.Stop()

	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Record(ctx, m, 1000, nil); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected Record to return once the flight stopped")
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}

	recs, err := ReadRecords(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Cycle != 10 || len(recs[0].Motors) != 4 {
		t.Errorf("expected a single record of cycle 10, got %+v", recs)
	}
}

func TestReadRecordsEmptyStream(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorder(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if recs, err := ReadRecords(&buf); err != nil || len(recs) != 0 {
		t.Errorf("expected no records and no error, got %v, %v", recs, err)
	}
}

func startServer(t *testing.T, m *flight.Manager) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(m, Config{Rate: 200}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		<-done
		ts.Close()
	})
	return s, ts
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("bad frame %q: %v", msg, err)
	}
	return f
}

func TestWebsocketFrames(t *testing.T) {
	m, step := newFlight(t)
	step(5)
	_, ts := startServer(t, m)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Either the frame broadcast before joining or the first one after.
	f := readFrame(t, conn)
	if f.Cycle != 5 || len(f.Motors) != 4 || !f.Running {
		t.Errorf("expected running frame for cycle 5 with 4 motors, got %+v", f)
	}

	step(5)
	deadline := time.Now().Add(5 * time.Second)
	for f.Cycle != 10 && time.Now().Before(deadline) {
		f = readFrame(t, conn)
	}
	if f.Cycle != 10 {
		t.Errorf("expected to eventually see cycle 10, got %d", f.Cycle)
	}

	m.Stop()
	for f.Running && time.Now().Before(deadline) {
		f = readFrame(t, conn)
	}
	if f.Running || f.Cycle != 10 {
		t.Errorf("expected a stopped frame for cycle 10, got %+v", f)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(b)
}

func TestHTTPEndpoints(t *testing.T) {
	m, step := newFlight(t)
	step(3)
	_, ts := startServer(t, m)

	code, body := get(t, ts.URL+"/sup")
	if code != http.StatusOK || !strings.Contains(body, "multicopter status") ||
		!strings.Contains(body, "<tr><th>Cycles</th><td>3</td></tr>") {
		t.Errorf("unexpected /sup response %d: %s", code, body)
	}

	code, body = get(t, ts.URL+"/snapshot")
	var f Frame
	if code != http.StatusOK {
		t.Errorf("expected 200 from /snapshot, got %d", code)
	} else if err := json.Unmarshal([]byte(body), &f); err != nil {
		t.Errorf("bad /snapshot body %q: %v", body, err)
	} else if f.Cycle != 3 || len(f.Motors) != 4 {
		t.Errorf("expected cycle 3 with 4 motors, got %+v", f)
	}

	if code, body = get(t, ts.URL+"/"); code != http.StatusOK || !strings.Contains(body, "/telemetry") {
		t.Errorf("unexpected index response %d: %s", code, body)
	}
	if code, _ = get(t, ts.URL+"/nope"); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestListenAndServe(t *testing.T) {
	m, step := newFlight(t)
	step(1)
	s := NewServer(m, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	bound := make(chan string, 1)
	errc := make(chan error, 1)
	go func() { errc <- s.ListenAndServe(ctx, "127.0.0.1:0", bound) }()

	var addr string
	select {
	case addr = <-bound:
	case err := <-errc:
		t.Fatalf("ListenAndServe: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	if code, _ := get(t, "http://"+addr+"/snapshot"); code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("server did not shut down")
	}
}

func TestRoomAfterShutdown(t *testing.T) {
	r := NewRoom(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	if !r.Broadcast([]byte("hello")) {
		t.Errorf("expected broadcast to a running room to succeed")
	}
	if n := r.Clients(); n != 0 {
		t.Errorf("expected no clients, got %d", n)
	}

	cancel()
	<-r.done
	if r.Broadcast([]byte("bye")) {
		t.Errorf("expected broadcast to a stopped room to fail")
	}
	if n := r.Clients(); n != 0 {
		t.Errorf("expected zero clients from a stopped room, got %d", n)
	}
}

func TestMakeFrame(t *testing.T) {
	var s flight.Snapshot
	s.Cycle, s.Time, s.N = 4, 0.5, 2
	s.Motors[0], s.Motors[1], s.Motors[2] = 0.1, 0.2, 0.3
	s.State[dynamics.StateZ] = -1.5
	s.State[dynamics.StatePsi] = 0.25

	f := MakeFrame(s, true)
	if !slices.Equal(f.Motors, []float64{0.1, 0.2}) {
		t.Errorf("expected only active motors, got %v", f.Motors)
	}
	if f.Altitude != 1.5 || f.Attitude[2] != 0.25 || !f.Running {
		t.Errorf("unexpected frame %+v", f)
	}
}
