package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"

	runlog "clearsite.ai/internal/persistence/log"
	"clearsite.ai/internal/protocol"
	"clearsite.ai/internal/sim/world/grid"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

type sinkRecorder struct {
	mu   sync.Mutex
	runs []runlog.RunEntry
}

func (s *sinkRecorder) RecordRun(e runlog.RunEntry) {
	s.mu.Lock()
	s.runs = append(s.runs, e)
	s.mu.Unlock()
}

func newTestServer(t *testing.T) (*httptest.Server, *sinkRecorder) {
	ts, sink, _ := newTestServerWithHandle(t)
	return ts, sink
}

func newTestServerWithHandle(t *testing.T) (*httptest.Server, *sinkRecorder, *Server) {
	t.Helper()
	w, err := grid.ParseRows([]string{
		"........",
		"........",
		"........",
		"........",
		"........",
		"........",
		"........",
		"........",
	})
	if err != nil {
		t.Fatalf("ParseRows: %v", err)
	}
	lg, _ := logtest.NewNullLogger()
	sink := &sinkRecorder{}
	srv := NewServer(Config{
		World:        w,
		Rand:         rand.New(rand.NewSource(1)),
		Recorder:     runlog.NewRecorder(nil, lg, sink),
		TuningDigest: "abc",
		Log:          lg,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, sink, srv
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	if err := c.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := c.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func hello(t *testing.T, c *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, c, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"})
	var w protocol.WelcomeMsg
	recv(t, c, &w)
	return w
}

func TestHandshake(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dial(t, ts)
	w := hello(t, c)
	if w.Type != protocol.TypeWelcome || w.SessionID == "" || w.MapWidth != 8 || w.MapHeight != 8 || w.TuningDigest != "abc" {
		t.Fatalf("welcome: %+v", w)
	}
}

func TestHandshake_RejectsWrongVersion(t *testing.T) {
	ts, _ := newTestServer(t)
	c := dial(t, ts)
	send(t, c, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1", ClientName: "old"})
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v", err)
	}
}

func TestSpawnVacateSettle(t *testing.T) {
	ts, sink, srv := newTestServerWithHandle(t)
	c := dial(t, ts)
	hello(t, c)

	send(t, c, protocol.SpawnMsg{
		Type: protocol.TypeSpawn, ProtocolVersion: protocol.Version, RequestID: "s1",
		Units: []protocol.SpawnUnit{
			{Handle: 1, Nation: 1, X: 3, Y: 3},
			{Handle: 9, Nation: 1, X: 7, Y: 7},
		},
	})
	var st protocol.StateMsg
	recv(t, c, &st)
	if st.Type != protocol.TypeState || st.RequestID != "s1" || len(st.Units) != 2 || st.TilesRLE == "" {
		t.Fatalf("state: %+v", st)
	}

	send(t, c, protocol.VacateMsg{
		Type: protocol.TypeVacate, ProtocolVersion: protocol.Version, RequestID: "v1",
		Footprint: vacate.Footprint{X: 3, Y: 3, Width: 1, Height: 1},
		Nation:    1, Builder: 9,
	})
	var res protocol.ResultMsg
	recv(t, c, &res)
	if res.Type != protocol.TypeResult || res.RequestID != "v1" || res.RunID == "" {
		t.Fatalf("result: %+v", res)
	}
	if len(res.Result.Orders) != 1 || res.Result.Orders[0].Handle != 1 || res.Result.Remaining != 0 {
		t.Fatalf("orders: %+v", res.Result)
	}
	sink.mu.Lock()
	if len(sink.runs) != 1 || sink.runs[0].RunID != res.RunID || sink.runs[0].Label != "test" {
		t.Fatalf("sink: %+v", sink.runs)
	}
	sink.mu.Unlock()
	if m := srv.Metrics(); m.Runs != 1 || m.Uncleared != 0 || m.Units != 2 || m.Sessions != 1 {
		t.Fatalf("metrics: %+v", m)
	}

	send(t, c, protocol.SettleMsg{Type: protocol.TypeSettle, ProtocolVersion: protocol.Version})
	st = protocol.StateMsg{}
	recv(t, c, &st)
	for _, u := range st.Units {
		if u.Handle == 1 && (u.Moving || u.Pos == (vacate.Pos{X: 3, Y: 3})) {
			t.Fatalf("unit 1 still on site: %+v", u)
		}
	}
}

func TestErrors(t *testing.T) {
	ts, _, srv := newTestServerWithHandle(t)
	c := dial(t, ts)
	hello(t, c)

	cases := []struct {
		msg  any
		code string
	}{
		{map[string]any{"type": "NOPE", "protocol_version": protocol.Version}, protocol.ErrProtoBadRequest},
		{map[string]any{"type": protocol.TypeState, "protocol_version": "9"}, protocol.ErrProtoBadRequest},
		{map[string]any{"type": protocol.TypeVacate, "protocol_version": protocol.Version, "nation": 1}, protocol.ErrProtoBadRequest},
		{protocol.VacateMsg{
			Type: protocol.TypeVacate, ProtocolVersion: protocol.Version,
			Footprint: vacate.Footprint{X: 1, Y: 1, Width: 1, Height: 1}, Nation: 1, Builder: 42,
		}, protocol.ErrNotFound},
		{protocol.VacateMsg{
			Type: protocol.TypeVacate, ProtocolVersion: protocol.Version,
			Footprint: vacate.Footprint{X: 7, Y: 1, Width: 1, Height: 1}, Nation: 1, Builder: 42,
		}, protocol.ErrBadRequest},
		{protocol.SpawnMsg{
			Type: protocol.TypeSpawn, ProtocolVersion: protocol.Version,
			Units: []protocol.SpawnUnit{{Handle: 5, Nation: 1, X: 20, Y: 0}},
		}, protocol.ErrConflict},
	}
	for i, tc := range cases {
		send(t, c, tc.msg)
		var raw json.RawMessage
		recv(t, c, &raw)
		var e protocol.ErrorMsg
		if err := json.Unmarshal(raw, &e); err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if e.Type != protocol.TypeError || e.Code != tc.code || !protocol.IsKnownCode(e.Code) {
			t.Fatalf("case %d: %s", i, raw)
		}
	}
	if m := srv.Metrics(); m.Failed != 2 || m.Runs != 0 {
		t.Fatalf("metrics: %+v", m)
	}
}

func TestSpawnBatchIsAllOrNothing(t *testing.T) {
	ts, _, srv := newTestServerWithHandle(t)
	c := dial(t, ts)
	hello(t, c)

	spawn := func(units ...protocol.SpawnUnit) json.RawMessage {
		send(t, c, protocol.SpawnMsg{Type: protocol.TypeSpawn, ProtocolVersion: protocol.Version, Units: units})
		var raw json.RawMessage
		recv(t, c, &raw)
		return raw
	}

	// The second unit lands on the first one's cell.
	raw := spawn(
		protocol.SpawnUnit{Handle: 1, Nation: 1, X: 1, Y: 1},
		protocol.SpawnUnit{Handle: 2, Nation: 1, X: 1, Y: 1},
	)
	var e protocol.ErrorMsg
	if err := json.Unmarshal(raw, &e); err != nil || e.Code != protocol.ErrConflict {
		t.Fatalf("first batch: %s", raw)
	}
	if m := srv.Metrics(); m.Units != 0 {
		t.Fatalf("units after failed batch=%d want 0", m.Units)
	}

	// The corrected batch goes through.
	raw = spawn(
		protocol.SpawnUnit{Handle: 1, Nation: 1, X: 1, Y: 1},
		protocol.SpawnUnit{Handle: 2, Nation: 1, X: 2, Y: 1},
	)
	var st protocol.StateMsg
	if err := json.Unmarshal(raw, &st); err != nil || st.Type != protocol.TypeState || len(st.Units) != 2 {
		t.Fatalf("retry: %s", raw)
	}
}

func TestShutdownClosesSessions(t *testing.T) {
	ts, _, srv := newTestServerWithHandle(t)
	c := dial(t, ts)
	hello(t, c)
	if m := srv.Metrics(); m.Sessions != 1 {
		t.Fatalf("sessions=%d", m.Sessions)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if m := srv.Metrics(); m.Sessions != 0 {
		t.Fatalf("sessions after shutdown=%d", m.Sessions)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("open session: err=%v", err)
	}

	// Late connections are turned away.
	late := dial(t, ts)
	_ = late.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("late session: err=%v", err)
	}
}
