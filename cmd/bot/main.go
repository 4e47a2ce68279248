package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/protocol"
	"clearsite.ai/internal/sim/world/logic/vacate"
)

// bot connects to a running server, drops a crowd of units around random
// sites and asks the server to clear them, settling between requests.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		nation   = flag.Int("nation", 1, "nation to act for")
		crowd    = flag.Int("crowd", 12, "units spawned per site")
		requests = flag.Int("n", 20, "vacate requests to send (0 = until interrupted)")
		seed     = flag.Int64("seed", 0, "random seed (0 = clock)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lg := logger.WithField("client", *name)

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(*seed))

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		lg.WithError(err).Fatal("dial")
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: *name}); err != nil {
		lg.WithError(err).Fatal("send HELLO")
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		lg.WithError(err).Fatal("no WELCOME")
	}
	lg.WithFields(logrus.Fields{"session": welcome.SessionID, "map": fmt.Sprintf("%dx%d", welcome.MapWidth, welcome.MapHeight)}).Info("connected")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{conn: conn, rnd: rnd, lg: lg, nation: *nation, mapW: welcome.MapWidth, mapH: welcome.MapHeight, next: 1_000_000 + rnd.Intn(1_000_000)}
	builder := b.spawnOne(0, 0)
	for i := 0; *requests == 0 || i < *requests; i++ {
		select {
		case <-stop:
			return
		default:
		}
		if err := b.round(builder, *crowd); err != nil {
			lg.WithError(err).Error("round")
			return
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	rnd    *rand.Rand
	lg     logrus.FieldLogger
	nation int
	mapW   int
	mapH   int
	next   int
	reqSeq int
}

func (b *bot) request(v any) (json.RawMessage, protocol.BaseMessage, error) {
	if err := b.conn.WriteJSON(v); err != nil {
		return nil, protocol.BaseMessage{}, err
	}
	_ = b.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := b.conn.ReadMessage()
	if err != nil {
		return nil, protocol.BaseMessage{}, err
	}
	base, err := protocol.DecodeBase(msg)
	return msg, base, err
}

func (b *bot) reqID() string {
	b.reqSeq++
	return fmt.Sprintf("R_%d", b.reqSeq)
}

// spawnOne places a builder, walking right from (x,y) until a cell accepts it.
func (b *bot) spawnOne(x, y int) int {
	for ; x < b.mapW; x++ {
		h := b.next
		b.next++
		_, base, err := b.request(protocol.SpawnMsg{
			Type: protocol.TypeSpawn, ProtocolVersion: protocol.Version, RequestID: b.reqID(),
			Units: []protocol.SpawnUnit{{Handle: h, Nation: b.nation, X: x, Y: y}},
		})
		if err == nil && base.Type == protocol.TypeState {
			return h
		}
	}
	b.lg.Fatal("no cell for the builder")
	return 0
}

func (b *bot) round(builder, crowd int) error {
	w, h := 1+b.rnd.Intn(4), 1+b.rnd.Intn(4)
	if b.mapW <= w+1 || b.mapH <= h+1 {
		return fmt.Errorf("map too small")
	}
	fp := vacate.Footprint{X: b.rnd.Intn(b.mapW - w - 1), Y: b.rnd.Intn(b.mapH - h - 1), Width: w, Height: h}

	// Spawn one at a time; cells that reject a unit are skipped.
	for i := 0; i < crowd; i++ {
		u := protocol.SpawnUnit{
			Handle: b.next,
			Nation: b.nation,
			X:      fp.X - 1 + b.rnd.Intn(w+2),
			Y:      fp.Y - 1 + b.rnd.Intn(h+2),
		}
		b.next++
		if _, _, err := b.request(protocol.SpawnMsg{
			Type: protocol.TypeSpawn, ProtocolVersion: protocol.Version, RequestID: b.reqID(), Units: []protocol.SpawnUnit{u},
		}); err != nil {
			return err
		}
	}

	raw, base, err := b.request(protocol.VacateMsg{
		Type: protocol.TypeVacate, ProtocolVersion: protocol.Version, RequestID: b.reqID(),
		Footprint: fp, Nation: b.nation, Builder: builder,
	})
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeResult:
		var res protocol.ResultMsg
		if err := json.Unmarshal(raw, &res); err != nil {
			return err
		}
		b.lg.WithFields(logrus.Fields{
			"run_id":    res.RunID,
			"site":      fmt.Sprintf("%dx%d@%d,%d", fp.Width, fp.Height, fp.X, fp.Y),
			"occupancy": res.Result.Occupancy,
			"remaining": res.Result.Remaining,
			"orders":    len(res.Result.Orders),
		}).Info("vacated")
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(raw, &e)
		b.lg.WithFields(logrus.Fields{"code": e.Code, "message": e.Message}).Warn(protocol.CodeText(e.Code))
	}

	_, _, err = b.request(protocol.SettleMsg{Type: protocol.TypeSettle, ProtocolVersion: protocol.Version, RequestID: b.reqID()})
	return err
}
