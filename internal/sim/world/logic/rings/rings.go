// Package rings decomposes a scan rectangle into concentric rectangular rings.
//
// Ring 0 is the innermost rectangle of the scan region. It is a proper
// rectangle when both scan dimensions are even, and a single row, column or
// point otherwise. Ring R+1 is the boundary of the smallest rectangle that
// contains ring R in its interior. Positions within a ring are numbered
// clockwise starting at its top-left corner.
package rings

import (
	"github.com/sirupsen/logrus"

	"clearsite.ai/internal/sim/world/logic/mathx"
)

// Geometry describes the ring decomposition of a scan region that surrounds a
// footprint with a fixed margin. All coordinates are scan-region relative.
type Geometry struct {
	Width  int // scan region width
	Height int // scan region height
	Margin int

	Count   int // number of rings
	Outline int // first ring entirely outside the footprint

	X0, Y0 int // ring 0 origin
	W0, H0 int // ring 0 size

	// Footprint rectangle.
	FX, FY int
	FW, FH int

	Log logrus.FieldLogger
}

// New returns the decomposition for a footprint of fw x fh cells surrounded by margin.
func New(fw, fh, margin int) Geometry {
	w := fw + 2*margin
	h := fh + 2*margin
	n := mathx.MinInt(fw+1+2*margin, fh+1+2*margin) / 2
	return Geometry{
		Width:   w,
		Height:  h,
		Margin:  margin,
		Count:   n,
		Outline: n - margin,
		X0:      n - 1,
		Y0:      n - 1,
		W0:      w - 2*(n-1),
		H0:      h - 2*(n-1),
		FX:      margin,
		FY:      margin,
		FW:      fw,
		FH:      fh,
	}
}

// Degenerate reports whether ring 0 is a strip or a single point.
func (g Geometry) Degenerate() bool {
	return g.W0 == 1 || g.H0 == 1
}

// Length returns the number of cells in ring r.
func (g Geometry) Length(r int) int {
	if r > 0 || (g.W0 > 1 && g.H0 > 1) {
		return 2*(g.W0+2*r) + 2*(g.H0-2+2*r)
	}
	return mathx.MaxInt(g.W0, g.H0)
}

// IndexToXY maps position i of ring r to scan coordinates.
// Out-of-range positions are logged and resolve to the ring's top-left corner.
func (g Geometry) IndexToXY(r, i int) (x, y int) {
	if r < 0 || i < 0 || i >= g.Length(r) {
		g.logger().WithFields(logrus.Fields{"ring": r, "index": i}).
			Error("ring index outside of ring length")
		return g.X0 - r, g.Y0 - r
	}
	// A degenerate ring 0 ends on the top edge (S x 1) or the bottom edge (1 x S).
	idx := i
	if idx < g.W0+2*r { // top
		return g.X0 - r + idx, g.Y0 - r
	}
	idx -= g.W0 + 2*r
	if idx < g.H0-2+2*r { // right, corners excluded
		return g.X0 + g.W0 - 1 + r, g.Y0 - r + 1 + idx
	}
	idx -= g.H0 - 2 + 2*r
	if idx < g.W0+2*r { // bottom, right to left
		return g.X0 + g.W0 - 1 + r - idx, g.Y0 + g.H0 - 1 + r
	}
	idx -= g.W0 + 2*r
	// left, bottom to top
	return g.X0 - r, g.Y0 + g.H0 - 2 + r - idx
}

// Locate is the inverse of IndexToXY. ok is false for cells outside the scan region.
func (g Geometry) Locate(x, y int) (r, i int, ok bool) {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return 0, 0, false
	}
	right0 := g.X0 + g.W0 - 1
	bottom0 := g.Y0 + g.H0 - 1
	r = mathx.MaxInt(mathx.MaxInt(g.X0-x, g.Y0-y), mathx.MaxInt(x-right0, y-bottom0))
	if r < 0 {
		r = 0
	}
	left, top := g.X0-r, g.Y0-r
	right, bottom := right0+r, bottom0+r
	w, h := g.W0+2*r, g.H0+2*r
	switch {
	case y == top:
		return r, x - left, true
	case x == right:
		return r, w + (y - top - 1), true
	case y == bottom:
		return r, w + (h - 2) + (right - x), true
	default:
		return r, 2*w + (h - 2) + (bottom - 1 - y), true
	}
}

// InFootprint reports whether a scan cell lies inside the footprint rectangle.
func (g Geometry) InFootprint(x, y int) bool {
	return x >= g.FX && x < g.FX+g.FW && y >= g.FY && y < g.FY+g.FH
}

func (g Geometry) logger() logrus.FieldLogger {
	if g.Log == nil {
		return logrus.StandardLogger()
	}
	return g.Log
}
