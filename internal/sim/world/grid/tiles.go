package grid

import (
	"fmt"

	"clearsite.ai/internal/sim/encoding"
)

// TilesRLE returns the row-major tile layer run-length encoded.
func (w *World) TilesRLE() string {
	raw := make([]byte, len(w.tiles))
	for i, t := range w.tiles {
		raw[i] = byte(t)
	}
	return encoding.EncodeRLE(raw)
}

// SetTilesRLE replaces the tile layer. The decoded length must match the map.
func (w *World) SetTilesRLE(rle string) error {
	raw, err := encoding.DecodeRLE(rle, len(w.tiles))
	if err != nil {
		return fmt.Errorf("grid: tiles: %w", err)
	}
	if len(raw) != len(w.tiles) {
		return fmt.Errorf("grid: tiles: got %d cells, map has %d", len(raw), len(w.tiles))
	}
	for i, b := range raw {
		if b > byte(TileRock) {
			return fmt.Errorf("grid: tiles: unknown tile %d at cell %d", b, i)
		}
	}
	for i, b := range raw {
		w.tiles[i] = Tile(b)
	}
	return nil
}

// ParseRows builds a world from text rows: '.' land, '~' water, '#' rock.
func ParseRows(rows []string) (*World, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("grid: empty map")
	}
	w := New(len(rows[0]), len(rows))
	for y, row := range rows {
		if len(row) != w.width {
			return nil, fmt.Errorf("grid: row %d has %d cells, want %d", y, len(row), w.width)
		}
		for x := 0; x < len(row); x++ {
			var t Tile
			switch row[x] {
			case '.':
				t = TileLand
			case '~':
				t = TileWater
			case '#':
				t = TileRock
			default:
				return nil, fmt.Errorf("grid: row %d col %d: unknown tile %q", y, x, row[x])
			}
			w.tiles[w.idx(x, y)] = t
		}
	}
	return w, nil
}
