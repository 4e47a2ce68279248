package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	runlog "clearsite.ai/internal/persistence/log"
	"clearsite.ai/internal/protocol"
	"clearsite.ai/internal/scenario"
	"clearsite.ai/internal/sim/world/grid"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

// Server hosts one grid and answers vacate requests over websockets. All
// sessions share the grid; requests are applied one at a time.
type Server struct {
	log          logrus.FieldLogger
	tuningDigest string

	mu       sync.Mutex
	world    *grid.World
	vacater  *vacate.Vacater
	recorder *runlog.Recorder

	upgrader websocket.Upgrader

	// live tracks open connections so Shutdown can close and wait for them.
	liveMu  sync.Mutex
	live    map[*websocket.Conn]struct{}
	closing bool
	wg      sync.WaitGroup

	sessions  atomic.Int64
	runs      atomic.Uint64
	uncleared atomic.Uint64
	failed    atomic.Uint64
}

// Metrics is a point-in-time view for the /metrics endpoint.
type Metrics struct {
	Sessions  int64
	Units     int
	Runs      uint64
	Uncleared uint64
	Failed    uint64
}

func (s *Server) Metrics() Metrics {
	s.mu.Lock()
	units := len(s.world.Units())
	s.mu.Unlock()
	return Metrics{
		Sessions:  s.sessions.Load(),
		Units:     units,
		Runs:      s.runs.Load(),
		Uncleared: s.uncleared.Load(),
		Failed:    s.failed.Load(),
	}
}

// World runs fn with exclusive access to the hosted grid.
func (s *Server) track(conn *websocket.Conn) bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.closing {
		return false
	}
	s.live[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.liveMu.Lock()
	delete(s.live, conn)
	s.liveMu.Unlock()
	s.wg.Done()
}

// Shutdown refuses new sessions, closes the open ones and waits for their
// handlers to return. http.Server.Shutdown does not cover hijacked
// connections, so call this before closing the recorder's sinks.
func (s *Server) Shutdown(ctx context.Context) error {
	s.liveMu.Lock()
	s.closing = true
	for conn := range s.live {
		closeWith(conn, websocket.CloseGoingAway, "shutting down")
		// Unblocks the reader loop.
		_ = conn.Close()
	}
	s.liveMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) World(fn func(w *grid.World)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.world)
}

type Config struct {
	World  *grid.World
	Rand   vacate.Rand
	Vacate vacate.Options
	// Recorder, when set, journals every run and supplies run IDs.
	Recorder     *runlog.Recorder
	TuningDigest string
	Log          logrus.FieldLogger
}

func NewServer(cfg Config) *Server {
	lg := cfg.Log
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	opts := cfg.Vacate
	opts.Log = lg
	if cfg.Recorder != nil {
		opts.Recorder = cfg.Recorder
	}
	return &Server{
		log:          lg.WithField("component", "ws"),
		tuningDigest: cfg.TuningDigest,
		world:        cfg.World,
		vacater:      vacate.New(cfg.World, cfg.World, cfg.Rand, opts),
		recorder:     cfg.Recorder,
		live:         map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			closeWith(conn, websocket.CloseGoingAway, "shutting down")
			return
		}
		defer s.untrack(conn)

		sess, ok := s.handshake(conn)
		if !ok {
			return
		}
		lg := s.log.WithFields(logrus.Fields{"session": sess.id, "client": sess.client})
		lg.Info("session opened")
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		out := make(chan []byte, 16)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.dispatch(sess, msg)
			b, err := json.Marshal(reply)
			if err != nil {
				lg.WithError(err).Error("marshal reply")
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
		lg.Info("session closed")
	}
}

type session struct {
	id     string
	client string
}

func (s *Server) handshake(conn *websocket.Conn) (session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return session{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return session{}, false
	}
	if err := protocol.ValidateInbound(protocol.TypeHello, msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return session{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return session{}, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return session{}, false
	}

	sess := session{id: uuid.NewString(), client: hello.ClientName}
	w, h := s.world.Size()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		MapWidth:        w,
		MapHeight:       h,
		TuningDigest:    s.tuningDigest,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return session{}, false
	}
	return sess, true
}

func (s *Server) dispatch(sess session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewError(base.RequestID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	if err := protocol.ValidateInbound(base.Type, msg); err != nil {
		return protocol.NewError(base.RequestID, protocol.ErrProtoBadRequest, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch base.Type {
	case protocol.TypeState:
		return s.stateLocked(base.RequestID)
	case protocol.TypeSettle:
		s.world.Settle()
		return s.stateLocked(base.RequestID)
	case protocol.TypeSpawn:
		var m protocol.SpawnMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(base.RequestID, protocol.ErrProtoBadRequest, err.Error())
		}
		if err := s.spawnLocked(m.Units); err != nil {
			return protocol.NewError(base.RequestID, protocol.ErrConflict, err.Error())
		}
		return s.stateLocked(base.RequestID)
	case protocol.TypeVacate:
		var m protocol.VacateMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(base.RequestID, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.vacateLocked(sess, m)
	default:
		return protocol.NewError(base.RequestID, protocol.ErrProtoBadRequest, fmt.Sprintf("unknown type %q", base.Type))
	}
}

func (s *Server) vacateLocked(sess session, m protocol.VacateMsg) any {
	if s.recorder != nil {
		s.recorder.SetLabel(sess.client)
	}
	res, err := s.vacater.VacateIdleOfNation(m.Footprint, m.Nation, m.Builder)
	if err != nil {
		s.failed.Add(1)
		return protocol.NewError(m.RequestID, errorCode(err), err.Error())
	}
	s.runs.Add(1)
	if res.Remaining > 0 {
		s.uncleared.Add(1)
	}
	reply := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		RequestID:       m.RequestID,
		Result:          res,
	}
	if s.recorder != nil {
		reply.RunID = s.recorder.LastRunID()
	}
	return reply
}

// spawnLocked places a SPAWN batch. The batch is all or nothing: on the
// first failure the units already placed are taken off again.
func (s *Server) spawnLocked(units []protocol.SpawnUnit) (err error) {
	placed := make([]int, 0, len(units))
	defer func() {
		if err != nil {
			for _, h := range placed {
				s.world.Remove(h)
			}
		}
	}()
	for _, u := range units {
		mt, err := scenario.ParseMobileType(u.Type)
		if err != nil {
			return fmt.Errorf("unit %d: %w", u.Handle, err)
		}
		if _, err := s.world.Spawn(grid.UnitSpec{
			Handle:     u.Handle,
			Nation:     u.Nation,
			MobileType: mt,
			X:          u.X,
			Y:          u.Y,
			Ordered:    u.Ordered,
			AIBusy:     u.AIBusy,
		}); err != nil {
			return fmt.Errorf("unit %d: %w", u.Handle, err)
		}
		placed = append(placed, u.Handle)
	}
	return nil
}

func (s *Server) stateLocked(requestID string) protocol.StateMsg {
	w, h := s.world.Size()
	st := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		RequestID:       requestID,
		MapWidth:        w,
		MapHeight:       h,
		TilesRLE:        s.world.TilesRLE(),
		Digest:          s.world.Digest(),
	}
	for _, u := range s.world.Units() {
		us := u.Status()
		st.Units = append(st.Units, protocol.UnitState{
			Handle:     u.Handle(),
			Nation:     u.Nation(),
			MobileType: u.MobileType().String(),
			Pos:        us.Pos,
			Goal:       us.Goal,
			Moving:     us.Action == vacate.ActionMove,
		})
	}
	return st
}

func errorCode(err error) string {
	switch scenario.ErrorCode(err) {
	case "bad_arguments":
		return protocol.ErrBadRequest
	case "unknown_builder":
		return protocol.ErrNotFound
	case "scan_too_large":
		return protocol.ErrTooLarge
	default:
		return protocol.ErrInternal
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
