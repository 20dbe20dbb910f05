package terrain

import "github.com/pradigmaz/QubeForge/internal/voxel"

// Decoration salts keep the ore and tree streams independent for one chunk.
const (
	saltOres  = 500
	saltTrees = 600
)

// veinSpec describes one ore pass: the block placed, how long a single
// random walk may run, and how many veins are attempted per chunk.
type veinSpec struct {
	block    uint8
	length   int
	attempts int
}

var veins = []veinSpec{
	{block: voxel.CoalOre, length: 8, attempts: 80},
	{block: voxel.IronOre, length: 6, attempts: 50},
}

// treeMargin keeps trunks and foliage strictly inside the chunk so trees
// never have to write across a chunk edge.
const treeMargin = 2

// Decorator mutates a terrain-filled volume in place with ore veins and
// trees, using per-chunk deterministic randomness derived from the world
// seed so regeneration replays identically.
type Decorator struct {
	seed   uint32
	params Params
}

// NewDecorator builds a decorator for one seed.
func NewDecorator(seed uint32, params Params) *Decorator {
	if params.Scale <= 0 {
		params = DefaultParams()
	}
	return &Decorator{seed: seed, params: params}
}

// Decorate runs the ore pass then the tree pass on one chunk volume.
func (d *Decorator) Decorate(vol voxel.Volume, cx, cz int) {
	d.placeOres(vol, cx, cz)
	d.placeTrees(vol, cx, cz)
}

func (d *Decorator) placeOres(vol voxel.Volume, cx, cz int) {
	gen := NewGenerator(d.seed, d.params)
	rng := newChunkRNG(d.seed, cx, cz, saltOres)

	for _, spec := range veins {
		for attempt := 0; attempt < spec.attempts; attempt++ {
			x := rng.nextN(voxel.ChunkSize)
			z := rng.nextN(voxel.ChunkSize)

			h := gen.SurfaceHeight(cx*voxel.ChunkSize+x, cz*voxel.ChunkSize+z)
			yMax := h - 3
			if yMax < 2 {
				yMax = 2
			}
			y := 1 + rng.nextN(yMax)

			d.walkVein(vol, x, y, z, spec, rng)
		}
	}
}

// walkVein replaces stone along an axis-aligned random walk. Steps landing in
// anything but stone count as failures; ten failures abandon the vein.
func (d *Decorator) walkVein(vol voxel.Volume, x, y, z int, spec veinSpec, rng *chunkRNG) {
	failures := 0
	for step := 0; step < spec.length; step++ {
		if voxel.InBounds(x, y, z) && vol[voxel.Index(x, y, z)] == voxel.Stone {
			vol[voxel.Index(x, y, z)] = spec.block
		} else {
			failures++
			if failures >= 10 {
				return
			}
		}

		switch rng.nextN(6) {
		case 0:
			x++
		case 1:
			x--
		case 2:
			y++
		case 3:
			y--
		case 4:
			z++
		case 5:
			z--
		}
	}
}

func (d *Decorator) placeTrees(vol voxel.Volume, cx, cz int) {
	rng := newChunkRNG(d.seed, cx, cz, saltTrees)

	for z := treeMargin; z < voxel.ChunkSize-treeMargin; z++ {
		for x := treeMargin; x < voxel.ChunkSize-treeMargin; x++ {
			h := topmost(vol, x, z)
			if h < 0 || vol[voxel.Index(x, h, z)] != voxel.Grass {
				continue
			}
			if rng.nextN(100) != 0 {
				continue
			}
			d.growTree(vol, x, h, z, rng)
		}
	}
}

// growTree raises a trunk of height 4 or 5 and drapes a leaf cuboid around
// its top, rounding corners off probabilistically.
func (d *Decorator) growTree(vol voxel.Volume, x, h, z int, rng *chunkRNG) {
	trunk := 4 + rng.nextN(2)

	for t := 1; t <= trunk; t++ {
		vol.Set(x, h+t, z, voxel.Wood)
	}

	leafBottom := h + trunk - 2
	leafTop := h + trunk + 1
	for y := leafBottom; y <= leafTop; y++ {
		if y >= voxel.ChunkHeight {
			break
		}
		radius := 2
		if y == leafTop {
			radius = 1
		}
		for dx := -radius; dx <= radius; dx++ {
			for dz := -radius; dz <= radius; dz++ {
				tx := x + dx
				tz := z + dz
				if absInt(dx) == radius && absInt(dz) == radius && radius > 1 && rng.nextN(100) < 40 {
					continue
				}
				if vol.At(tx, y, tz) != voxel.Air {
					continue
				}
				vol.Set(tx, y, tz, voxel.Leaves)
			}
		}
	}
}

// topmost scans a column downward for its highest non-air voxel.
func topmost(vol voxel.Volume, x, z int) int {
	for y := voxel.ChunkHeight - 1; y >= 0; y-- {
		if vol[voxel.Index(x, y, z)] != voxel.Air {
			return y
		}
	}
	return -1
}

// chunkRNG is a small linear-congruential generator seeded from the world
// seed and chunk coordinates, so every decoration stream replays exactly.
type chunkRNG struct {
	state int64
}

func newChunkRNG(seed uint32, cx, cz int, salt int64) *chunkRNG {
	s := int64(seed) ^ (int64(cx)*341873128712 + int64(cz)*132897987541 + salt)
	return &chunkRNG{state: s}
}

func (r *chunkRNG) next() int64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return r.state
}

func (r *chunkRNG) nextN(n int) int {
	if n <= 0 {
		return 0
	}
	v := int(r.next()>>33) % n
	if v < 0 {
		v = -v
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
