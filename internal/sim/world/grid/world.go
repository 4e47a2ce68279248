// Package grid is an in-memory tile map with mobile units. It serves the
// vacate planner's map and unit-registry queries and applies the move orders
// the planner issues.
package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"clearsite.ai/internal/sim/world/logic/vacate"
)

type Tile uint8

const (
	TileLand Tile = iota
	TileWater
	TileRock
)

func (t Tile) Accessible(mt vacate.MobileType) bool {
	switch mt {
	case vacate.MobileLand:
		return t == TileLand
	case vacate.MobileSea:
		return t == TileWater
	case vacate.MobileAir:
		return true
	default:
		return false
	}
}

const mobileTypes = 3

var (
	ErrOutOfBounds  = errors.New("grid: cell out of bounds")
	ErrInaccessible = errors.New("grid: cell not accessible")
	ErrOccupied     = errors.New("grid: cell occupied")
	ErrDuplicate    = errors.New("grid: duplicate unit handle")
)

// World holds the tiles and one occupancy layer per mobile type.
type World struct {
	width  int
	height int
	tiles  []Tile
	occ    [mobileTypes][]int // unit handle per cell, 0 = empty
	units  map[int]*Unit
}

func New(width, height int) *World {
	w := &World{
		width:  width,
		height: height,
		tiles:  make([]Tile, width*height),
		units:  map[int]*Unit{},
	}
	for i := range w.occ {
		w.occ[i] = make([]int, width*height)
	}
	return w
}

func (w *World) Size() (int, int) { return w.width, w.height }

func (w *World) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < w.width && y < w.height
}

func (w *World) idx(x, y int) int { return y*w.width + x }

func (w *World) Tile(x, y int) Tile {
	if !w.InBounds(x, y) {
		return TileRock
	}
	return w.tiles[w.idx(x, y)]
}

func (w *World) SetTile(x, y int, t Tile) {
	if w.InBounds(x, y) {
		w.tiles[w.idx(x, y)] = t
	}
}

func (w *World) Accessible(x, y int, mt vacate.MobileType) bool {
	return w.InBounds(x, y) && int(mt) < mobileTypes && w.tiles[w.idx(x, y)].Accessible(mt)
}

func (w *World) Occupant(x, y int, mt vacate.MobileType) (int, bool) {
	if !w.InBounds(x, y) || int(mt) >= mobileTypes {
		return 0, false
	}
	h := w.occ[mt][w.idx(x, y)]
	return h, h != 0
}

// Unit satisfies vacate.Registry.
func (w *World) Unit(handle int) (vacate.Unit, bool) {
	u, ok := w.units[handle]
	if !ok {
		return nil, false
	}
	return u, true
}

func (w *World) Get(handle int) *Unit {
	return w.units[handle]
}

// Units returns all units ordered by handle.
func (w *World) Units() []*Unit {
	out := make([]*Unit, 0, len(w.units))
	for _, u := range w.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

type UnitSpec struct {
	Handle     int
	Nation     int
	MobileType vacate.MobileType
	X, Y       int
	Action     vacate.Action
	// Goal of a unit spawned mid-move; defaults to its position.
	Goal    *vacate.Pos
	Ordered bool
	AIBusy  bool
}

func (w *World) Spawn(spec UnitSpec) (*Unit, error) {
	if spec.Handle == 0 {
		return nil, fmt.Errorf("grid: spawn: zero handle")
	}
	if _, ok := w.units[spec.Handle]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicate, spec.Handle)
	}
	if !w.InBounds(spec.X, spec.Y) {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, spec.X, spec.Y)
	}
	if !w.Accessible(spec.X, spec.Y, spec.MobileType) {
		return nil, fmt.Errorf("%w: (%d,%d) for %s", ErrInaccessible, spec.X, spec.Y, spec.MobileType)
	}
	layer := w.occ[spec.MobileType]
	if layer[w.idx(spec.X, spec.Y)] != 0 {
		return nil, fmt.Errorf("%w: (%d,%d)", ErrOccupied, spec.X, spec.Y)
	}
	pos := vacate.Pos{X: spec.X, Y: spec.Y}
	u := &Unit{
		handle:  spec.Handle,
		nation:  spec.Nation,
		mt:      spec.MobileType,
		action:  spec.Action,
		pos:     pos,
		goal:    pos,
		ordered: spec.Ordered,
		aiBusy:  spec.AIBusy,
	}
	if spec.Goal != nil {
		u.goal = *spec.Goal
	}
	layer[w.idx(spec.X, spec.Y)] = spec.Handle
	w.units[spec.Handle] = u
	return u, nil
}

// Remove takes a unit off the map. It reports whether the handle was present.
func (w *World) Remove(handle int) bool {
	u, ok := w.units[handle]
	if !ok {
		return false
	}
	layer := w.occ[u.mt]
	if i := w.idx(u.pos.X, u.pos.Y); layer[i] == handle {
		layer[i] = 0
	}
	delete(w.units, handle)
	return true
}

// Settle moves every walking unit straight onto its goal when that cell is
// free and accessible, in handle order. Units that cannot arrive keep walking.
// Returns the number of units that arrived.
func (w *World) Settle() int {
	arrived := 0
	for _, u := range w.Units() {
		if u.action != vacate.ActionMove {
			continue
		}
		if u.goal == u.pos {
			u.action = vacate.ActionIdle
			continue
		}
		g := u.goal
		if !w.Accessible(g.X, g.Y, u.mt) {
			continue
		}
		layer := w.occ[u.mt]
		if layer[w.idx(g.X, g.Y)] != 0 {
			continue
		}
		layer[w.idx(u.pos.X, u.pos.Y)] = 0
		layer[w.idx(g.X, g.Y)] = u.handle
		u.pos = g
		u.action = vacate.ActionIdle
		arrived++
	}
	return arrived
}

// CountIn returns how many units of mobile type mt stand inside fp.
func (w *World) CountIn(fp vacate.Footprint, mt vacate.MobileType) int {
	n := 0
	for y := fp.Y; y < fp.Y+fp.Height; y++ {
		for x := fp.X; x < fp.X+fp.Width; x++ {
			if _, ok := w.Occupant(x, y, mt); ok {
				n++
			}
		}
	}
	return n
}

// Digest hashes tiles and unit placement.
func (w *World) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(w.width))
	binary.LittleEndian.PutUint32(tmp[4:], uint32(w.height))
	h.Write(tmp[:])
	for _, t := range w.tiles {
		h.Write([]byte{byte(t)})
	}
	for _, u := range w.Units() {
		for _, v := range []int{u.handle, u.nation, int(u.mt), u.pos.X, u.pos.Y, u.goal.X, u.goal.Y, int(u.action)} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(v))
			h.Write(tmp[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
