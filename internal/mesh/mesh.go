// Package mesh extracts render-ready triangle lists from chunk volumes with
// occlusion culling against both in-chunk and cross-chunk neighbours.
package mesh

import "github.com/pradigmaz/QubeForge/internal/voxel"

// Face directions as forwarded to the renderer.
const (
	DirPosX uint8 = 0
	DirNegX uint8 = 1
	DirPosY uint8 = 2
	DirNegY uint8 = 3
	DirPosZ uint8 = 4
	DirNegZ uint8 = 5
)

// BlockLookup answers what occupies an arbitrary world coordinate. resident
// is false when the owning chunk is not in memory; the extractor then draws
// the face conservatively so unloaded neighbours never leave holes.
type BlockLookup func(x, y, z int) (block uint8, resident bool)

// Mesh is one chunk's triangle output. Positions are chunk-local; the
// renderer applies the (cx·S, 0, cz·S) world offset. Attribute streams stay
// aligned: positions and normals carry 4 vertices per face, FaceBlocks and
// FaceDirs one entry per face, Indices two triangles per face.
type Mesh struct {
	Positions  []float32
	Normals    []float32
	FaceBlocks []uint8
	FaceDirs   []uint8
	Indices    []uint32
}

// Empty reports whether the mesh has no triangles.
func (m *Mesh) Empty() bool {
	return len(m.Indices) == 0
}

// FaceCount reports the number of emitted faces.
func (m *Mesh) FaceCount() int {
	return len(m.FaceDirs)
}

var faceNormals = [6][3]float32{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
}

var faceOffsets = [6][3]int{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
}

// faceQuads holds one four-vertex template per direction, ordered so the
// shared triangles (0,1,2) and (2,1,3) wind counter-clockwise seen from the
// side the normal points at.
var faceQuads = [6][4][3]float32{
	{{1, 0, 1}, {1, 0, 0}, {1, 1, 1}, {1, 1, 0}}, // +X
	{{0, 0, 0}, {0, 0, 1}, {0, 1, 0}, {0, 1, 1}}, // -X
	{{0, 1, 1}, {1, 1, 1}, {0, 1, 0}, {1, 1, 0}}, // +Y
	{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}, {1, 0, 1}}, // -Y
	{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1}}, // +Z
	{{1, 0, 0}, {0, 0, 0}, {1, 1, 0}, {0, 1, 0}}, // -Z
}

// Build extracts the mesh for chunk (cx, cz). The volume is borrowed
// read-only; lookup resolves neighbours that fall outside the chunk.
func Build(vol voxel.Volume, cx, cz int, lookup BlockLookup) *Mesh {
	m := &Mesh{}

	yMin, yMax, any := verticalWindow(vol)
	if !any {
		return m
	}

	baseX := cx * voxel.ChunkSize
	baseZ := cz * voxel.ChunkSize

	for z := 0; z < voxel.ChunkSize; z++ {
		for y := yMin; y <= yMax; y++ {
			for x := 0; x < voxel.ChunkSize; x++ {
				t := vol[voxel.Index(x, y, z)]
				if t == voxel.Air {
					continue
				}
				for dir := 0; dir < 6; dir++ {
					nx := x + faceOffsets[dir][0]
					ny := y + faceOffsets[dir][1]
					nz := z + faceOffsets[dir][2]
					if transparentNeighbour(vol, nx, ny, nz, baseX, baseZ, lookup) {
						m.emitFace(x, y, z, uint8(dir), t)
					}
				}
			}
		}
	}
	return m
}

// transparentNeighbour decides whether the face toward (nx,ny,nz) is drawn.
// In-chunk neighbours come straight from the volume; everything else goes
// through the lookup, where a non-resident chunk counts as transparent.
func transparentNeighbour(vol voxel.Volume, nx, ny, nz, baseX, baseZ int, lookup BlockLookup) bool {
	if ny < 0 || ny >= voxel.ChunkHeight {
		return true
	}
	if nx >= 0 && nx < voxel.ChunkSize && nz >= 0 && nz < voxel.ChunkSize {
		return voxel.TransparentForCulling(vol[voxel.Index(nx, ny, nz)])
	}
	if lookup == nil {
		return true
	}
	block, resident := lookup(baseX+nx, ny, baseZ+nz)
	if !resident {
		return true
	}
	return voxel.TransparentForCulling(block)
}

func (m *Mesh) emitFace(x, y, z int, dir uint8, block uint8) {
	base := uint32(len(m.Positions) / 3)

	quad := faceQuads[dir]
	normal := faceNormals[dir]
	for v := 0; v < 4; v++ {
		m.Positions = append(m.Positions,
			float32(x)+quad[v][0],
			float32(y)+quad[v][1],
			float32(z)+quad[v][2])
		m.Normals = append(m.Normals, normal[0], normal[1], normal[2])
	}
	m.FaceBlocks = append(m.FaceBlocks, block)
	m.FaceDirs = append(m.FaceDirs, dir)
	m.Indices = append(m.Indices,
		base+0, base+1, base+2,
		base+2, base+1, base+3)
}

// verticalWindow finds the y-range holding any non-air voxel, expanded by
// one layer each way for neighbour sampling. Empty slabs above and below are
// skipped entirely by the outer loops.
func verticalWindow(vol voxel.Volume) (int, int, bool) {
	yMin, yMax := -1, -1
	for y := 0; y < voxel.ChunkHeight; y++ {
		occupied := false
		for z := 0; z < voxel.ChunkSize && !occupied; z++ {
			row := voxel.Index(0, y, z)
			for x := 0; x < voxel.ChunkSize; x++ {
				if vol[row+x] != voxel.Air {
					occupied = true
					break
				}
			}
		}
		if occupied {
			if yMin < 0 {
				yMin = y
			}
			yMax = y
		}
	}
	if yMin < 0 {
		return 0, 0, false
	}
	if yMin > 0 {
		yMin--
	}
	if yMax < voxel.ChunkHeight-1 {
		yMax++
	}
	return yMin, yMax, true
}
