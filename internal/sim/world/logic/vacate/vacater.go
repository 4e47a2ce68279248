// Package vacate orders idle units out of a construction site.
//
// A Vacater copies the site and a margin around it into a scratch schematic,
// plans relocations on the schematic in three stages (push, fill, queue) and
// finally issues move orders for the planned destinations. Units that could
// not be planned out of the site are sent to the outline ring regardless.
package vacate

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/sim/tuning"
	"clearsite.ai/internal/sim/world/logic/rings"
)

const (
	// DefaultMargin is the number of rings scanned beyond the site. The
	// stages need at least 2 and gain nothing from more.
	DefaultMargin = 2
	// DefaultMaxMove bounds the lateral search when pushing a unit outward.
	DefaultMaxMove = 3
	// DefaultQueueMove bounds the search when queueing outline units.
	DefaultQueueMove = 1
	// DefaultMaxScanCells caps the schematic size.
	DefaultMaxScanCells = 1 << 16

	// Towns are 4x4 and no firm is larger; the buffer starts at that size.
	typicalSiteWidth  = 4
	typicalSiteHeight = 4
)

var (
	ErrBadArguments   = errors.New("vacate: bad arguments")
	ErrUnknownBuilder = errors.New("vacate: builder not found")
)

// Footprint is the rectangle to clear, in map coordinates.
type Footprint struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

func (f Footprint) Contains(x, y int) bool {
	return x >= f.X && x < f.X+f.Width && y >= f.Y && y < f.Y+f.Height
}

// Order is one move order issued to a unit.
type Order struct {
	Handle    int  `json:"handle"`
	From      Pos  `json:"from"`
	To        Pos  `json:"to"`
	Desperate bool `json:"desperate,omitempty"`
}

type StageReport struct {
	Stage     Stage `json:"stage"`
	Remaining int   `json:"remaining"`
}

// Result describes one completed vacate call.
type Result struct {
	Footprint  Footprint     `json:"footprint"`
	Nation     int           `json:"nation"`
	Builder    int           `json:"builder"`
	MobileType MobileType    `json:"mobile_type"`
	ScanOrigin Pos           `json:"scan_origin"`
	Occupancy  int           `json:"occupancy"`
	Obstacles  int           `json:"obstacles"`
	Remaining  int           `json:"remaining"`
	Stages     []StageReport `json:"stages,omitempty"`
	Orders     []Order       `json:"orders,omitempty"`
}

// Ran reports whether stage s was executed.
func (r Result) Ran(s Stage) bool {
	for _, st := range r.Stages {
		if st.Stage == s {
			return true
		}
	}
	return false
}

type Options struct {
	Margin       int
	MaxMove      int
	QueueMove    int
	MaxScanCells int

	Log      logrus.FieldLogger
	Recorder Recorder
}

// OptionsFromTuning maps tuning values onto Options, leaving zero values to defaults.
func OptionsFromTuning(t tuning.Vacate) Options {
	return Options{
		Margin:       t.ScanMargin,
		MaxMove:      t.MaxMove,
		QueueMove:    t.QueueMove,
		MaxScanCells: t.MaxScanCells,
	}
}

// Vacater owns the scratch schematic. It is not safe for concurrent use.
type Vacater struct {
	terrain Terrain
	units   Registry
	rnd     Rand
	opts    Options
	log     logrus.FieldLogger

	schematic Schematic
}

func New(terrain Terrain, units Registry, rnd Rand, opts Options) *Vacater {
	if opts.Margin < DefaultMargin {
		opts.Margin = DefaultMargin
	}
	if opts.MaxMove <= 0 {
		opts.MaxMove = DefaultMaxMove
	}
	if opts.QueueMove <= 0 {
		opts.QueueMove = DefaultQueueMove
	}
	if opts.MaxScanCells <= 0 {
		opts.MaxScanCells = DefaultMaxScanCells
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	v := &Vacater{
		terrain: terrain,
		units:   units,
		rnd:     rnd,
		opts:    opts,
		log:     log.WithField("component", "vacate"),
	}
	// Only a warm-up; each call resizes again for its own site.
	if err := v.schematic.resize(typicalSiteWidth+2*opts.Margin, typicalSiteHeight+2*opts.Margin, opts.MaxScanCells); err != nil {
		v.log.WithError(err).Debug("schematic preallocation skipped")
	}
	return v
}

// Schematic exposes the scratch buffer as left by the last call.
func (v *Vacater) Schematic() *Schematic {
	return &v.schematic
}

// VacateIdleOfNation orders the idle units of nation standing on fp out of
// the way, leaving builder untouched. Only bad arguments and an oversized
// site are errors; an uncleared site is reported through Result.Remaining.
func (v *Vacater) VacateIdleOfNation(fp Footprint, nation, builder int) (Result, error) {
	res := Result{Footprint: fp, Nation: nation, Builder: builder}
	fields := logrus.Fields{"x": fp.X, "y": fp.Y, "w": fp.Width, "h": fp.Height, "nation": nation, "builder": builder}

	mapW, mapH := v.terrain.Size()
	if nation == 0 || builder == 0 ||
		fp.X < 0 || fp.Y < 0 || fp.Width < 1 || fp.Height < 1 ||
		fp.X+fp.Width >= mapW || fp.Y+fp.Height >= mapH {
		v.log.WithFields(fields).Warn("vacate called with bad arguments")
		return res, ErrBadArguments
	}
	b, ok := v.units.Unit(builder)
	if !ok {
		v.log.WithFields(fields).Warn("vacate builder not found")
		return res, fmt.Errorf("%w: %d", ErrUnknownBuilder, builder)
	}

	g := rings.New(fp.Width, fp.Height, v.opts.Margin)
	g.Log = v.log
	if err := v.schematic.resize(g.Width, g.Height, v.opts.MaxScanCells); err != nil {
		v.log.WithFields(fields).WithError(err).Error("vacate aborted")
		return res, err
	}

	res.MobileType = b.MobileType()
	res.ScanOrigin = Pos{X: fp.X - v.opts.Margin, Y: fp.Y - v.opts.Margin}
	st := v.schematic.build(v.terrain, v.units, buildRequest{
		geo:     g,
		origin:  res.ScanOrigin,
		mt:      res.MobileType,
		nation:  nation,
		builder: builder,
	}, v.log)
	res.Occupancy = st.occupancy
	res.Obstacles = st.obstacles
	res.Remaining = st.occupancy

	if res.Occupancy > 0 {
		p := &plan{g: g, s: &v.schematic, rnd: v.rnd, maxMove: v.opts.MaxMove, queueMove: v.opts.QueueMove}
		stages := []struct {
			name Stage
			run  func(int) int
		}{
			{StagePush, func(int) int { return p.push() }},
			{StageFill, p.fill},
			{StageQueue, p.queue},
		}
		for _, s := range stages {
			if res.Remaining == 0 {
				break
			}
			res.Remaining = s.run(res.Remaining)
			res.Stages = append(res.Stages, StageReport{Stage: s.name, Remaining: res.Remaining})
		}
		res.Orders = v.materialize(p, res.ScanOrigin)
	}

	v.log.WithFields(fields).WithFields(logrus.Fields{
		"occupancy": res.Occupancy,
		"remaining": res.Remaining,
		"orders":    len(res.Orders),
	}).Debug("vacate done")
	if v.opts.Recorder != nil {
		v.opts.Recorder.RecordVacate(res)
	}
	return res, nil
}

// materialize issues the move orders the schematic describes. Units still on
// the site are sent to the outline ring, preferring cells that are not blocked.
func (v *Vacater) materialize(p *plan, origin Pos) []Order {
	var orders []Order
	outline := p.g.Outline
	n := p.g.Length(outline)
	cursor := p.rnd.Intn(n)

	for y := 0; y < p.g.Height; y++ {
		for x := 0; x < p.g.Width; x++ {
			h := p.s.At(x, y)
			if !Movable(h) {
				continue
			}
			u, ok := v.units.Unit(int(h))
			if !ok {
				v.log.WithField("handle", h).Warn("planned unit vanished from registry")
				continue
			}
			tx, ty := x, y
			desperate := p.g.InFootprint(x, y)
			if desperate {
				if cursor != -1 {
					cursor = p.nextNonBlocked(outline, cursor)
				}
				at := cursor
				if at == -1 {
					at = p.rnd.Intn(n)
				}
				tx, ty = p.g.IndexToXY(outline, at)
			}
			to := Pos{X: origin.X + tx, Y: origin.Y + ty}
			st := u.Status()
			if st.Goal == to {
				continue
			}
			u.MoveTo(to.X, to.Y)
			orders = append(orders, Order{Handle: int(h), From: st.Pos, To: to, Desperate: desperate})
		}
	}
	return orders
}
