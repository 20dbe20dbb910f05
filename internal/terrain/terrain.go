// Package terrain turns chunk coordinates into initial voxel volumes:
// a column-fill synthesis pass followed by ore and tree decoration.
package terrain

import (
	"math"

	"github.com/pradigmaz/QubeForge/internal/noise"
	"github.com/pradigmaz/QubeForge/internal/voxel"
)

// Params are the surface-shaping constants. They travel alongside the seed so
// worker-side generators reproduce the main path exactly.
type Params struct {
	Scale     float64
	Amplitude float64
	Base      int
}

// DefaultParams returns the canonical surface constants.
func DefaultParams() Params {
	return Params{Scale: 50, Amplitude: 8, Base: 20}
}

// Generator synthesises terrain columns from seeded value noise.
type Generator struct {
	params Params
	noise  *noise.Source
}

// NewGenerator builds a generator for one seed. Generators are cheap enough
// to rebuild whenever the seed changes.
func NewGenerator(seed uint32, params Params) *Generator {
	if params.Scale <= 0 {
		params = DefaultParams()
	}
	return &Generator{params: params, noise: noise.New(seed)}
}

// SurfaceHeight computes the terrain column height at a world column. The
// same formula answers top-of-ground queries for chunks that were never
// generated.
func (g *Generator) SurfaceHeight(worldX, worldZ int) int {
	sample := g.noise.Sample(float64(worldX)/g.params.Scale, float64(worldZ)/g.params.Scale)
	h := int(math.Floor(sample*g.params.Amplitude)) + g.params.Base
	if h < 1 {
		h = 1
	}
	if h > voxel.ChunkHeight-1 {
		h = voxel.ChunkHeight - 1
	}
	return h
}

// Fill populates a zeroed volume with the terrain columns of chunk (cx, cz):
// bedrock floor, stone body, a three-block dirt cap and a grass surface.
func (g *Generator) Fill(vol voxel.Volume, cx, cz int) {
	baseX := cx * voxel.ChunkSize
	baseZ := cz * voxel.ChunkSize

	for z := 0; z < voxel.ChunkSize; z++ {
		for x := 0; x < voxel.ChunkSize; x++ {
			h := g.SurfaceHeight(baseX+x, baseZ+z)
			for y := 0; y <= h; y++ {
				var block uint8
				switch {
				case y == 0:
					block = voxel.Bedrock
				case y == h:
					block = voxel.Grass
				case y >= h-3:
					block = voxel.Dirt
				default:
					block = voxel.Stone
				}
				vol[voxel.Index(x, y, z)] = block
			}
		}
	}
}

// Generate produces the full initial volume for a chunk: terrain fill plus
// decoration. This is the single code path shared by pool workers and the
// synchronous fallback, which keeps both byte-identical for a given seed.
func Generate(cx, cz int, seed uint32, params Params) voxel.Volume {
	vol := voxel.NewVolume()
	gen := NewGenerator(seed, params)
	gen.Fill(vol, cx, cz)
	NewDecorator(seed, params).Decorate(vol, cx, cz)
	return vol
}
