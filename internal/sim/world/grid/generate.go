package grid

import (
	opensimplex "github.com/ojrac/opensimplex-go"

	"clearsite.ai/internal/sim/tuning"
	"clearsite.ai/internal/sim/world/logic/mathx"
)

// Generate builds a deterministic map: noise above SeaLevel is water, and a
// Rock share of the remaining land is scattered rock.
func Generate(cfg tuning.Map) *World {
	w := New(cfg.Width, cfg.Height)
	noise := opensimplex.NewNormalized(cfg.Seed)
	rockCut := uint64(cfg.Rock * float64(1<<32))
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			t := TileLand
			if cfg.SeaLevel > 0 && octaveNoise(noise, float64(x), float64(y), 4, 0.03, 0.5) > cfg.SeaLevel {
				t = TileWater
			} else if mathx.Hash2(cfg.Seed, x, y)&0xffffffff < rockCut {
				t = TileRock
			}
			w.tiles[w.idx(x, y)] = t
		}
	}
	return w
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}
