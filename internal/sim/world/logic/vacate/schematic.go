package vacate

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/sim/world/logic/rings"
)

// Blocked marks a cell nothing may move into or out of. Unit handles must stay
// below it.
const Blocked uint32 = 1 << 31

// MaxHandle is the largest unit handle the schematic can carry.
const MaxHandle = int(Blocked - 1)

var ErrScanTooLarge = errors.New("vacate: scan area exceeds buffer limit")

// Process-wide so a corrupt unit table cannot flood the log.
var (
	warnedBadHandle atomic.Bool
	warnedOrphan    atomic.Bool
)

// Movable reports whether a schematic cell carries a unit the planner may relocate.
func Movable(v uint32) bool {
	return v != 0 && v != Blocked
}

// Schematic is the scratch occupancy grid of one scan region. The backing
// array only ever grows so repeated vacates reuse it.
type Schematic struct {
	width  int
	height int
	cells  []uint32
}

func (s *Schematic) Width() int  { return s.width }
func (s *Schematic) Height() int { return s.height }

// At returns the cell value at scan coordinates (x,y).
func (s *Schematic) At(x, y int) uint32 {
	return s.cells[y*s.width+x]
}

func (s *Schematic) set(x, y int, v uint32) {
	s.cells[y*s.width+x] = v
}

// Capacity is the number of cells the buffer can hold without reallocating.
func (s *Schematic) Capacity() int {
	return cap(s.cells)
}

// resize prepares the buffer for a width x height region. Regions larger than
// limit cells fail and leave the buffer empty.
func (s *Schematic) resize(width, height, limit int) error {
	if width <= 0 || height <= 0 || width > limit/height {
		s.release()
		return ErrScanTooLarge
	}
	n := width * height
	if n > limit {
		s.release()
		return ErrScanTooLarge
	}
	if cap(s.cells) < n {
		s.cells = make([]uint32, n)
	}
	s.cells = s.cells[:n]
	s.width = width
	s.height = height
	return nil
}

func (s *Schematic) release() {
	s.cells = nil
	s.width = 0
	s.height = 0
}

// buildRequest carries what the schematic needs besides the collaborators.
type buildRequest struct {
	geo     rings.Geometry
	origin  Pos // map coordinates of scan cell (0,0)
	mt      MobileType
	nation  int
	builder int
}

type buildStats struct {
	occupancy int // movable units inside the footprint
	obstacles int // immovable units inside the footprint, the builder excluded
}

// build overwrites every cell of the schematic from the map and unit registry.
func (s *Schematic) build(terrain Terrain, units Registry, req buildRequest, log logrus.FieldLogger) buildStats {
	var st buildStats
	mapW, mapH := terrain.Size()
	for j := 0; j < s.height; j++ {
		y := req.origin.Y + j
		for i := 0; i < s.width; i++ {
			x := req.origin.X + i
			inside := req.geo.InFootprint(i, j)

			if x < 0 || y < 0 || x >= mapW || y >= mapH || !terrain.Accessible(x, y, req.mt) {
				s.set(i, j, Blocked)
				continue
			}
			h, ok := terrain.Occupant(x, y, req.mt)
			if !ok {
				s.set(i, j, 0)
				continue
			}
			u, ok := units.Unit(h)
			if !ok {
				if warnedOrphan.CompareAndSwap(false, true) {
					log.WithFields(logrus.Fields{"handle": h, "x": x, "y": y}).Warn("occupant not in unit registry; treating as obstacle")
				}
				s.set(i, j, Blocked)
				continue
			}
			if u.Handle() == req.builder {
				s.set(i, j, Blocked)
				continue
			}
			if obstacle(u, req.nation) {
				s.set(i, j, Blocked)
				if inside {
					st.obstacles++
				}
				continue
			}
			handle := u.Handle()
			if handle <= 0 || handle > MaxHandle {
				if warnedBadHandle.CompareAndSwap(false, true) {
					log.WithField("handle", handle).Error("unit handle cannot be stored in the schematic; treating as obstacle")
				}
				s.set(i, j, Blocked)
				continue
			}
			s.set(i, j, uint32(handle))
			if inside {
				st.occupancy++
			}
		}
	}
	return st
}

// obstacle reports whether a unit must stay where it is. Units still walking
// toward a goal are free to be redirected; otherwise only idle units of the
// requesting nation without pending orders may be moved.
func obstacle(u Unit, nation int) bool {
	st := u.Status()
	if st.Action == ActionMove && st.Pos != st.Goal {
		return false
	}
	if u.Nation() == nation && st.Action == ActionIdle && !st.Ordered && !st.AIBusy {
		return false
	}
	return true
}
