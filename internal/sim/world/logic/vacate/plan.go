package vacate

import (
	"math"

	"clearsite.ai/internal/sim/world/logic/mathx"
	"clearsite.ai/internal/sim/world/logic/rings"
)

// plan moves unit flags around the schematic; no real unit is touched here.
type plan struct {
	g   rings.Geometry
	s   *Schematic
	rnd Rand

	maxMove   int
	queueMove int
}

func (p *plan) at(r, i int) (x, y int, v uint32) {
	x, y = p.g.IndexToXY(r, i)
	return x, y, p.s.At(x, y)
}

// move relocates the flag at (fx,fy) onto the free cell (tx,ty).
func (p *plan) move(fx, fy, tx, ty int) {
	p.s.set(tx, ty, p.s.At(fx, fy))
	p.s.set(fx, fy, 0)
}

// searchFreeSpot probes ring r around position at, alternating sides
// (0, -1, +1, -2, +2, ...) for 2*window probes, and returns the first free
// position or -1.
func (p *plan) searchFreeSpot(window, r, at int) int {
	n := p.g.Length(r)
	dir := 1
	for k := 0; k < 2*window; k++ {
		i := mathx.Mod(at+dir*(k/2+k%2), n)
		if _, _, v := p.at(r, i); v == 0 {
			return i
		}
		dir = -dir
	}
	return -1
}

// findPushedSpot returns the free position in ring r+1 the unit at position i
// of ring r should move to, or -1.
func (p *plan) findPushedSpot(window, r, i int) int {
	next := p.g.Length(r + 1)

	if r == 0 && p.g.Degenerate() {
		w0, h0 := p.g.W0, p.g.H0
		switch {
		case w0 == 1 && h0 == 1:
			// Single point: every cell of the next ring is adjacent.
			return p.searchFreeSpot((next-1)/2+(next-1)%2, r+1, p.rnd.Intn(next))
		case i == 0 || i == p.g.Length(r)-1:
			// Strip end: anchor between the outer corners with extra slack.
			var at int
			if w0 > 1 {
				at = w0 + 3
				if i == 0 {
					at = next - 1
				}
			} else {
				at = h0 + 5
				if i == 0 {
					at = 1
				}
			}
			return p.searchFreeSpot(window+2, r+1, at)
		default:
			// Strip interior: one long side at random, then the other.
			first := p.rnd.Intn(2)
			if found := p.searchFreeSpot(window, r+1, p.stripSide(first, i, next)); found >= 0 {
				return found
			}
			return p.searchFreeSpot(window, r+1, p.stripSide(1-first, i, next))
		}
	}

	// Proper rectangle: corners map to corners, edge cells straight outward.
	w, h := p.g.W0+2*r, p.g.H0+2*r
	upperRight := w - 1
	lowerRight := w + h - 2
	lowerLeft := p.g.Length(r) - (h - 1)

	corner, shift := 0, 7
	switch {
	case i <= 0:
		corner, shift = b2i(i == 0), -1
	case i <= upperRight:
		corner, shift = b2i(i == upperRight), 1
	case i <= lowerRight:
		corner, shift = b2i(i == lowerRight), 3
	case i <= lowerLeft:
		corner, shift = b2i(i == lowerLeft), 5
	}
	return p.searchFreeSpot(window+corner, r+1, i+shift+corner)
}

// stripSide maps interior position i of a degenerate ring 0 onto ring 1,
// above/below for a horizontal strip (side 0 = above), left/right for a
// vertical one (side 0 = left).
func (p *plan) stripSide(side, i, next int) int {
	w0 := p.g.W0
	if w0 > 1 {
		if side == 0 {
			return 1 + i
		}
		return 1 + w0 + 3 + (w0 - 1 - i)
	}
	if side == 0 {
		return next - 1 - i
	}
	return 3 + i
}

// nearestUnit returns the footprint unit closest to (x,y): Chebyshev distance
// first, then the shorter axis delta so straight moves beat diagonal ones.
func (p *plan) nearestUnit(x, y int) (h uint32, ux, uy int) {
	best, best2 := math.MaxInt, math.MaxInt
	for j := p.g.FY; j < p.g.FY+p.g.FH; j++ {
		for i := p.g.FX; i < p.g.FX+p.g.FW; i++ {
			v := p.s.At(i, j)
			if !Movable(v) {
				continue
			}
			d := mathx.Chebyshev(i, j, x, y)
			d2 := mathx.Straightness(i, j, x, y)
			if d < best || (d == best && d2 < best2) {
				h, ux, uy = v, i, j
				best, best2 = d, d2
			}
		}
	}
	return h, ux, uy
}

// nextNonBlocked returns the first position after prev on ring r that is not
// Blocked, or -1 when the whole ring is blocked.
func (p *plan) nextNonBlocked(r, prev int) int {
	n := p.g.Length(r)
	for k := 0; k < n; k++ {
		i := (prev + 1 + k) % n
		if _, _, v := p.at(r, i); v != Blocked {
			return i
		}
	}
	return -1
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
