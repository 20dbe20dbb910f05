package mesh

import (
	"testing"

	"github.com/pradigmaz/QubeForge/internal/voxel"
)

// allAirLookup simulates fully resident, empty neighbours.
func allAirLookup(x, y, z int) (uint8, bool) {
	return voxel.Air, true
}

// absentLookup simulates no neighbour chunks resident at all.
func absentLookup(x, y, z int) (uint8, bool) {
	return voxel.Air, false
}

func TestEmptyVolumeEmitsNothing(t *testing.T) {
	m := Build(voxel.NewVolume(), 0, 0, allAirLookup)
	if !m.Empty() {
		t.Fatalf("empty volume produced %d faces", m.FaceCount())
	}
}

func TestSingleVoxelEmitsSixFaces(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(10, 20, 10, voxel.Stone)

	m := Build(vol, 0, 0, allAirLookup)
	if got := m.FaceCount(); got != 6 {
		t.Fatalf("faces = %d, want 6", got)
	}
	if got := len(m.Positions); got != 6*4*3 {
		t.Fatalf("positions = %d floats, want %d", got, 6*4*3)
	}
	if got := len(m.Normals); got != len(m.Positions) {
		t.Fatalf("normals length %d misaligned with positions %d", got, len(m.Positions))
	}
	if got := len(m.Indices); got != 6*6 {
		t.Fatalf("indices = %d, want %d", got, 6*6)
	}
	if got := len(m.FaceBlocks); got != 6 {
		t.Fatalf("face blocks = %d, want 6", got)
	}
	for _, b := range m.FaceBlocks {
		if b != voxel.Stone {
			t.Fatalf("face block %d, want stone", b)
		}
	}

	seen := make(map[uint8]bool)
	for _, d := range m.FaceDirs {
		seen[d] = true
	}
	for d := uint8(0); d < 6; d++ {
		if !seen[d] {
			t.Fatalf("direction %d missing", d)
		}
	}
}

func TestAdjacentSolidsCullSharedFaces(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(10, 20, 10, voxel.Stone)
	vol.Set(11, 20, 10, voxel.Stone)

	m := Build(vol, 0, 0, allAirLookup)
	// Two cubes share one interior wall: 12 - 2 = 10 faces.
	if got := m.FaceCount(); got != 10 {
		t.Fatalf("faces = %d, want 10", got)
	}
	for i, d := range m.FaceDirs {
		x := m.Positions[i*12]
		if d == DirPosX && x == 11 {
			t.Fatal("interior +X face emitted between adjacent solids")
		}
	}
}

func TestLeavesTransparentForCulling(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(10, 20, 10, voxel.Stone)
	vol.Set(11, 20, 10, voxel.Leaves)

	m := Build(vol, 0, 0, allAirLookup)
	// The stone emits all six faces (leaves do not occlude), while the leaf
	// block's face toward the opaque stone is culled: 6 + 5.
	stoneFaces := 0
	leafFaces := 0
	for i, b := range m.FaceBlocks {
		switch b {
		case voxel.Stone:
			stoneFaces++
		case voxel.Leaves:
			leafFaces++
		default:
			t.Fatalf("unexpected face block %d at %d", b, i)
		}
	}
	if stoneFaces != 6 {
		t.Fatalf("stone faces = %d, want 6 (leaves must not occlude)", stoneFaces)
	}
	if leafFaces != 5 {
		t.Fatalf("leaf faces = %d, want 5", leafFaces)
	}
}

func TestConservativeBorderEmission(t *testing.T) {
	vol := voxel.NewVolume()
	// Solid voxels hugging the -X and +X chunk edges.
	vol.Set(0, 20, 5, voxel.Stone)
	vol.Set(voxel.ChunkSize-1, 20, 7, voxel.Stone)

	m := Build(vol, 0, 0, absentLookup)

	foundNegX := false
	foundPosX := false
	for i, d := range m.FaceDirs {
		x := m.Positions[i*12]
		if d == DirNegX && x == 0 {
			foundNegX = true
		}
		if d == DirPosX && x == float32(voxel.ChunkSize) {
			foundPosX = true
		}
	}
	if !foundNegX {
		t.Fatal("no -X face at the chunk edge with absent neighbour")
	}
	if !foundPosX {
		t.Fatal("no +X face at the chunk edge with absent neighbour")
	}
}

func TestResidentNeighbourOccludesBorder(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(0, 20, 5, voxel.Stone)

	solidNeighbour := func(x, y, z int) (uint8, bool) {
		if x == -1 && y == 20 && z == 5 {
			return voxel.Stone, true
		}
		return voxel.Air, true
	}

	m := Build(vol, 0, 0, solidNeighbour)
	for i, d := range m.FaceDirs {
		if d == DirNegX && m.Positions[i*12] == 0 {
			t.Fatal("-X border face emitted despite solid resident neighbour")
		}
	}
}

func TestLookupReceivesWorldCoordinates(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(0, 20, 0, voxel.Stone)

	var got [][3]int
	lookup := func(x, y, z int) (uint8, bool) {
		got = append(got, [3]int{x, y, z})
		return voxel.Air, true
	}
	// Chunk (-2, 3): local (0,*,0) is world (-64, *, 96).
	Build(vol, -2, 3, lookup)

	wantNegX := [3]int{-65, 20, 96}
	wantNegZ := [3]int{-64, 20, 95}
	foundNegX, foundNegZ := false, false
	for _, c := range got {
		if c == wantNegX {
			foundNegX = true
		}
		if c == wantNegZ {
			foundNegZ = true
		}
	}
	if !foundNegX || !foundNegZ {
		t.Fatalf("lookup coords %v missing %v or %v", got, wantNegX, wantNegZ)
	}
}

func TestVerticalWorldEdges(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(5, 0, 5, voxel.Bedrock)
	vol.Set(6, voxel.ChunkHeight-1, 6, voxel.Stone)

	m := Build(vol, 0, 0, allAirLookup)
	// Both blocks are isolated cubes; out-of-world vertically counts as
	// transparent, so each emits all six faces.
	if got := m.FaceCount(); got != 12 {
		t.Fatalf("faces = %d, want 12", got)
	}
}

func TestQuadIndexPattern(t *testing.T) {
	vol := voxel.NewVolume()
	vol.Set(1, 1, 1, voxel.Dirt)

	m := Build(vol, 0, 0, allAirLookup)
	for f := 0; f < m.FaceCount(); f++ {
		base := uint32(f * 4)
		idx := m.Indices[f*6 : f*6+6]
		want := []uint32{base, base + 1, base + 2, base + 2, base + 1, base + 3}
		for i := range want {
			if idx[i] != want[i] {
				t.Fatalf("face %d indices %v, want %v", f, idx, want)
			}
		}
	}
}
