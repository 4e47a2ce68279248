package vacate

// Stage names a planning step in the order the orchestrator runs them.
type Stage string

const (
	StagePush  Stage = "push"
	StageFill  Stage = "fill"
	StageQueue Stage = "queue"
)

// push moves units ring by ring toward the outline until the footprint is
// empty or a whole cycle moves nothing. Returns the units left inside.
func (p *plan) push() int {
	outline := p.g.Outline
	emptyRing := -1
	for {
		occupied := 0
		pushed := false
		for r := emptyRing + 1; r < outline; r++ {
			n := p.g.Length(r)
			start := p.rnd.Intn(n)
			empty := true
			for k := 0; k < n; k++ {
				i := (start + k) % n
				x, y, v := p.at(r, i)
				if !Movable(v) {
					continue
				}
				next := p.findPushedSpot(p.maxMove, r, i)
				if next < 0 {
					empty = false
					occupied++
					continue
				}
				nx, ny := p.g.IndexToXY(r+1, next)
				p.move(x, y, nx, ny)
				pushed = true
			}
			// Emptiness only counts once every ring inside is empty too.
			if empty && emptyRing == r-1 {
				emptyRing = r
			}
		}
		if emptyRing+1 >= outline || !pushed {
			return occupied
		}
	}
}

// fill moves the nearest footprint unit onto every free outline cell.
func (p *plan) fill(occupied int) int {
	outline := p.g.Outline
	n := p.g.Length(outline)
	start := p.rnd.Intn(n)
	for k := 0; k < n && occupied > 0; k++ {
		x, y, v := p.at(outline, (start+k)%n)
		if v != 0 {
			continue
		}
		h, ux, uy := p.nearestUnit(x, y)
		if h == 0 {
			continue
		}
		p.move(ux, uy, x, y)
		occupied--
	}
	return occupied
}

// queue steps outline units one ring further out and backfills each vacated
// outline cell from the footprint, forming queues around the site.
func (p *plan) queue(occupied int) int {
	outline := p.g.Outline
	n := p.g.Length(outline)
	start := p.rnd.Intn(n)
	for k := 0; k < n && occupied > 0; k++ {
		i := (start + k) % n
		x, y, v := p.at(outline, i)
		if !Movable(v) {
			continue
		}
		next := p.findPushedSpot(p.queueMove, outline, i)
		if next < 0 {
			continue
		}
		nx, ny := p.g.IndexToXY(outline+1, next)
		p.move(x, y, nx, ny)

		h, ux, uy := p.nearestUnit(x, y)
		if h == 0 {
			continue
		}
		p.move(ux, uy, x, y)
		occupied--
		// The unit just placed here may be able to queue up as well.
		k--
	}
	return occupied
}
