package vacate

import (
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"clearsite.ai/internal/sim/world/logic/rings"
)

type fakeUnit struct {
	handle int
	nation int
	mt     MobileType
	st     Status
	moves  []Pos
}

func (u *fakeUnit) Handle() int            { return u.handle }
func (u *fakeUnit) Nation() int            { return u.nation }
func (u *fakeUnit) MobileType() MobileType { return u.mt }
func (u *fakeUnit) Status() Status         { return u.st }
func (u *fakeUnit) MoveTo(x, y int)        { u.moves = append(u.moves, Pos{X: x, Y: y}) }

type fakeWorld struct {
	w, h    int
	blocked map[Pos]bool
	occ     map[Pos]int
	units   map[int]*fakeUnit
}

func newFakeWorld(w, h int) *fakeWorld {
	return &fakeWorld{w: w, h: h, blocked: map[Pos]bool{}, occ: map[Pos]int{}, units: map[int]*fakeUnit{}}
}

func (f *fakeWorld) Size() (int, int) { return f.w, f.h }
func (f *fakeWorld) Accessible(x, y int, _ MobileType) bool {
	return !f.blocked[Pos{X: x, Y: y}]
}
func (f *fakeWorld) Occupant(x, y int, _ MobileType) (int, bool) {
	h, ok := f.occ[Pos{X: x, Y: y}]
	return h, ok
}
func (f *fakeWorld) Unit(h int) (Unit, bool) {
	u, ok := f.units[h]
	if !ok {
		return nil, false
	}
	return u, true
}

func (f *fakeWorld) put(handle, nation, x, y int) *fakeUnit {
	p := Pos{X: x, Y: y}
	u := &fakeUnit{handle: handle, nation: nation, st: Status{Pos: p, Goal: p}}
	f.units[handle] = u
	f.occ[p] = handle
	return u
}

// newPlan returns a plan over a fresh all-free schematic.
func newPlan(fw, fh int) *plan {
	g := rings.New(fw, fh, DefaultMargin)
	s := &Schematic{}
	if err := s.resize(g.Width, g.Height, DefaultMaxScanCells); err != nil {
		panic(err)
	}
	for i := range s.cells {
		s.cells[i] = 0
	}
	return &plan{g: g, s: s, rnd: rand.New(rand.NewSource(1)), maxMove: DefaultMaxMove, queueMove: DefaultQueueMove}
}

func TestSearchFreeSpot_ProbeOrder(t *testing.T) {
	p := newPlan(2, 2)
	n := p.g.Length(1)
	for i := 0; i < n; i++ {
		x, y := p.g.IndexToXY(1, i)
		p.s.set(x, y, Blocked)
	}
	for _, i := range []int{3, 6} {
		x, y := p.g.IndexToXY(1, i)
		p.s.set(x, y, 0)
	}
	// 5, 4, 6, 3: the +1 side is probed before the -2 side.
	if got := p.searchFreeSpot(2, 1, 5); got != 6 {
		t.Fatalf("window 2: got %d want 6", got)
	}
	if got := p.searchFreeSpot(1, 1, 5); got != -1 {
		t.Fatalf("window 1: got %d want -1", got)
	}
	// Wraps around the ring.
	if got := p.searchFreeSpot(3, 1, n-1); got != -1 {
		t.Fatalf("wrap miss: got %d", got)
	}
	if got := p.searchFreeSpot(4, 1, 0); got != 3 {
		t.Fatalf("wrap from 0: got %d want 3", got)
	}
}

func TestFindPushedSpot_CornersGoDiagonal(t *testing.T) {
	p := newPlan(2, 2)
	for i := 0; i < p.g.Length(0); i++ {
		x, y := p.g.IndexToXY(0, i)
		got := p.findPushedSpot(DefaultMaxMove, 0, i)
		if got < 0 {
			t.Fatalf("corner %d: no spot", i)
		}
		nx, ny := p.g.IndexToXY(1, got)
		if nx-x != 1 && x-nx != 1 || ny-y != 1 && y-ny != 1 {
			t.Fatalf("corner %d at (%d,%d) pushed to (%d,%d), want diagonal", i, x, y, nx, ny)
		}
	}
}

func TestFindPushedSpot_EdgeGoesStraight(t *testing.T) {
	p := newPlan(4, 4)
	// Ring 1 is 4x4; position 1 is on the top edge, not a corner.
	x, y := p.g.IndexToXY(1, 1)
	got := p.findPushedSpot(DefaultMaxMove, 1, 1)
	nx, ny := p.g.IndexToXY(2, got)
	if nx != x || ny != y-1 {
		t.Fatalf("edge (%d,%d) pushed to (%d,%d)", x, y, nx, ny)
	}
}

func TestFindPushedSpot_DegenerateFindsNeighbour(t *testing.T) {
	for _, sz := range [][2]int{{1, 1}, {3, 1}, {1, 3}, {5, 1}, {1, 6}} {
		p := newPlan(sz[0], sz[1])
		if !p.g.Degenerate() {
			t.Fatalf("%v: ring 0 not degenerate: %+v", sz, p.g)
		}
		for i := 0; i < p.g.Length(0); i++ {
			x, y := p.g.IndexToXY(0, i)
			got := p.findPushedSpot(DefaultMaxMove, 0, i)
			if got < 0 {
				t.Fatalf("%v pos %d: no spot", sz, i)
			}
			nx, ny := p.g.IndexToXY(1, got)
			if abs(nx-x) > 1 || abs(ny-y) > 1 {
				t.Fatalf("%v pos %d at (%d,%d) pushed to far cell (%d,%d)", sz, i, x, y, nx, ny)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestNearestUnit_PrefersStraightMoves(t *testing.T) {
	p := newPlan(2, 2)
	p.s.set(3, 2, 7)
	p.s.set(3, 3, 8)
	h, ux, uy := p.nearestUnit(4, 3)
	if h != 8 || ux != 3 || uy != 3 {
		t.Fatalf("got %d at (%d,%d)", h, ux, uy)
	}
	p.s.set(3, 3, Blocked)
	if h, _, _ := p.nearestUnit(4, 3); h != 7 {
		t.Fatalf("blocked cell chosen: %d", h)
	}
}

func TestNextNonBlocked(t *testing.T) {
	p := newPlan(2, 2)
	n := p.g.Length(1)
	for i := 0; i < n; i++ {
		x, y := p.g.IndexToXY(1, i)
		p.s.set(x, y, Blocked)
	}
	if got := p.nextNonBlocked(1, 0); got != -1 {
		t.Fatalf("all blocked: %d", got)
	}
	x, y := p.g.IndexToXY(1, 2)
	p.s.set(x, y, 42)
	if got := p.nextNonBlocked(1, 5); got != 2 {
		t.Fatalf("wrapped lookup: %d", got)
	}
	// Occupied cells qualify, the previous position itself is checked last.
	if got := p.nextNonBlocked(1, 2); got != 2 {
		t.Fatalf("self: %d", got)
	}
}

func TestBuild_BadHandleLoggedOnce(t *testing.T) {
	warnedBadHandle.Store(false)
	log, hook := logtest.NewNullLogger()
	w := newFakeWorld(10, 10)
	w.put(1, 1, 0, 0) // builder
	big := MaxHandle + 1
	w.put(big, 1, 4, 4)

	g := rings.New(2, 2, DefaultMargin)
	var s Schematic
	if err := s.resize(g.Width, g.Height, DefaultMaxScanCells); err != nil {
		t.Fatalf("resize: %v", err)
	}
	req := buildRequest{geo: g, origin: Pos{X: 2, Y: 2}, nation: 1, builder: 1}
	for i := 0; i < 2; i++ {
		st := s.build(w, w, req, log)
		if st.occupancy != 0 {
			t.Fatalf("bad handle counted as movable")
		}
		if s.At(2, 2) != Blocked {
			t.Fatalf("cell=%d want Blocked", s.At(2, 2))
		}
	}
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("error entries=%d want 1", n)
	}
}

func TestBuild_ClassifiesCells(t *testing.T) {
	warnedOrphan.Store(false)
	log, hook := logtest.NewNullLogger()
	w := newFakeWorld(12, 12)
	w.blocked[Pos{X: 4, Y: 3}] = true
	w.put(1, 1, 4, 4) // builder inside the site
	w.put(2, 1, 5, 4)
	w.put(3, 2, 4, 5) // foreign, idle
	busy := w.put(4, 1, 5, 5)
	busy.st.AIBusy = true
	w.occ[Pos{X: 3, Y: 3}] = 99 // ghost occupant

	g := rings.New(2, 2, DefaultMargin)
	var s Schematic
	if err := s.resize(g.Width, g.Height, DefaultMaxScanCells); err != nil {
		t.Fatalf("resize: %v", err)
	}
	st := s.build(w, w, buildRequest{geo: g, origin: Pos{X: 2, Y: 2}, nation: 1, builder: 1}, log)
	if st.occupancy != 1 || st.obstacles != 2 {
		t.Fatalf("stats=%+v", st)
	}
	want := map[Pos]uint32{
		{X: 2, Y: 2}: Blocked, // builder
		{X: 3, Y: 2}: 2,
		{X: 2, Y: 3}: Blocked,
		{X: 3, Y: 3}: Blocked,
		{X: 2, Y: 1}: Blocked, // inaccessible
		{X: 1, Y: 1}: Blocked, // ghost
		{X: 0, Y: 0}: 0,
	}
	for p, v := range want {
		if got := s.At(p.X, p.Y); got != v {
			t.Fatalf("cell %v=%d want %d", p, got, v)
		}
	}
	// A second ghost and a second scan stay quiet.
	w.occ[Pos{X: 7, Y: 7}] = 98
	s.build(w, w, buildRequest{geo: g, origin: Pos{X: 2, Y: 2}, nation: 1, builder: 1}, log)
	if len(hook.AllEntries()) != 1 || hook.LastEntry().Level != logrus.WarnLevel {
		t.Fatalf("want one warning for ghost occupants, got %d entries", len(hook.AllEntries()))
	}
}

func TestBuild_OutsideMapIsBlocked(t *testing.T) {
	w := newFakeWorld(6, 6)
	g := rings.New(1, 1, DefaultMargin)
	var s Schematic
	if err := s.resize(g.Width, g.Height, DefaultMaxScanCells); err != nil {
		t.Fatalf("resize: %v", err)
	}
	s.build(w, w, buildRequest{geo: g, origin: Pos{X: -1, Y: -1}, nation: 1, builder: 1}, logrus.New())
	if s.At(0, 0) != Blocked || s.At(1, 3) != 0 {
		t.Fatalf("edge cells: %d %d", s.At(0, 0), s.At(1, 3))
	}
}

func TestObstacle(t *testing.T) {
	here := Pos{X: 1, Y: 1}
	there := Pos{X: 5, Y: 1}
	cases := []struct {
		name   string
		nation int
		st     Status
		want   bool
	}{
		{"idle own", 1, Status{Pos: here, Goal: here}, false},
		{"idle foreign", 2, Status{Pos: here, Goal: here}, true},
		{"walking foreign", 2, Status{Action: ActionMove, Pos: here, Goal: there}, false},
		{"arrived walker", 2, Status{Action: ActionMove, Pos: here, Goal: here}, true},
		{"ordered own", 1, Status{Pos: here, Goal: here, Ordered: true}, true},
		{"ai busy own", 1, Status{Pos: here, Goal: here, AIBusy: true}, true},
		{"busy own", 1, Status{Action: ActionBusy, Pos: here, Goal: here}, true},
	}
	for _, tc := range cases {
		u := &fakeUnit{handle: 5, nation: tc.nation, st: tc.st}
		if got := obstacle(u, 1); got != tc.want {
			t.Fatalf("%s: got %v", tc.name, got)
		}
	}
}

func TestResize_GrowsOnlyAndReleasesOnOverflow(t *testing.T) {
	var s Schematic
	if err := s.resize(8, 8, 100); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := s.resize(3, 3, 100); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if s.Capacity() != 64 || s.Width() != 3 || s.Height() != 3 {
		t.Fatalf("cap=%d %dx%d", s.Capacity(), s.Width(), s.Height())
	}
	if err := s.resize(11, 10, 100); err != ErrScanTooLarge {
		t.Fatalf("err=%v", err)
	}
	if s.Capacity() != 0 || s.Width() != 0 {
		t.Fatalf("buffer kept after overflow: cap=%d", s.Capacity())
	}
}
