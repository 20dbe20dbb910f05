// Package residency owns the in-memory chunk volumes: per-voxel reads and
// writes across chunk borders, dirty tracking for persistence, and
// distance-ordered eviction candidates.
package residency

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pradigmaz/QubeForge/internal/voxel"
)

const (
	// DefaultSoftCap is the resident chunk count that triggers eviction.
	DefaultSoftCap = 500
	// DefaultEvictionBatch bounds how many chunks one pass may drop.
	DefaultEvictionBatch = 50
)

// record is one resident chunk. The version counter advances on every
// mutation so an asynchronous save can tell whether edits raced it.
type record struct {
	volume       voxel.Volume
	dirty        bool
	meshAttached bool
	version      uint64
}

// SurfaceFunc answers top-of-ground queries for columns whose chunk is not
// resident, so physics always receives a plausible height.
type SurfaceFunc func(worldX, worldZ int) int

// Residency is the exclusive owner of all resident chunk volumes.
type Residency struct {
	mu      sync.RWMutex
	chunks  map[voxel.ChunkCoord]*record
	surface SurfaceFunc
	log     *zap.Logger
}

// New builds an empty residency map. surface may be nil, in which case
// ungenerated columns report height zero.
func New(surface SurfaceFunc, logger *zap.Logger) *Residency {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Residency{
		chunks:  make(map[voxel.ChunkCoord]*record),
		surface: surface,
		log:     logger,
	}
}

// SetSurface replaces the ungenerated-column height fallback, used when the
// seed changes.
func (r *Residency) SetSurface(surface SurfaceFunc) {
	r.mu.Lock()
	r.surface = surface
	r.mu.Unlock()
}

// Put installs a volume under a key, taking ownership of the buffer.
func (r *Residency) Put(key voxel.ChunkCoord, vol voxel.Volume, dirty bool) {
	if len(vol) != voxel.VolumeLen {
		r.log.Error("rejecting volume with wrong length",
			zap.String("chunk", key.Key()), zap.Int("len", len(vol)))
		return
	}
	r.mu.Lock()
	r.chunks[key] = &record{volume: vol, dirty: dirty}
	r.mu.Unlock()
}

// Get returns the resident volume for a key. The caller must treat the
// buffer as borrowed and read-only.
func (r *Residency) Get(key voxel.ChunkCoord) (voxel.Volume, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[key]
	if !ok {
		return nil, false
	}
	return rec.volume, true
}

// Has reports residency of a key.
func (r *Residency) Has(key voxel.ChunkCoord) bool {
	r.mu.RLock()
	_, ok := r.chunks[key]
	r.mu.RUnlock()
	return ok
}

// Remove drops a chunk from residency. Persistence ordering is the caller's
// responsibility.
func (r *Residency) Remove(key voxel.ChunkCoord) {
	r.mu.Lock()
	delete(r.chunks, key)
	r.mu.Unlock()
}

// Count reports how many chunks are resident.
func (r *Residency) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// Keys lists all resident chunk keys.
func (r *Residency) Keys() []voxel.ChunkCoord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]voxel.ChunkCoord, 0, len(r.chunks))
	for k := range r.chunks {
		out = append(out, k)
	}
	return out
}

// GetBlock reads one voxel at world coordinates; air when the chunk is not
// resident or y is out of range.
func (r *Residency) GetBlock(x, y, z int) uint8 {
	if y < 0 || y >= voxel.ChunkHeight {
		return voxel.Air
	}
	key, lx, lz := voxel.WorldToChunk(x, z)
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[key]
	if !ok {
		return voxel.Air
	}
	return rec.volume[voxel.Index(lx, y, lz)]
}

// Sample reads one voxel and reports whether its chunk is resident, for the
// mesh extractor's conservative-border policy. Out-of-range heights read as
// air and are reported resident, whatever chunk the column falls in.
func (r *Residency) Sample(x, y, z int) (uint8, bool) {
	if y < 0 || y >= voxel.ChunkHeight {
		return voxel.Air, true
	}
	key, lx, lz := voxel.WorldToChunk(x, z)
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[key]
	if !ok {
		return voxel.Air, false
	}
	return rec.volume[voxel.Index(lx, y, lz)], true
}

// SetBlock writes one voxel, marks the owning chunk dirty and returns its
// key. Writes to absent chunks or out-of-range heights are no-ops.
func (r *Residency) SetBlock(x, y, z int, t uint8) (voxel.ChunkCoord, bool) {
	if y < 0 || y >= voxel.ChunkHeight {
		return voxel.ChunkCoord{}, false
	}
	key, lx, lz := voxel.WorldToChunk(x, z)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.chunks[key]
	if !ok {
		return voxel.ChunkCoord{}, false
	}
	rec.volume[voxel.Index(lx, y, lz)] = t
	rec.dirty = true
	rec.version++
	return key, true
}

// HasBlock reports whether the voxel at world coordinates is non-air.
func (r *Residency) HasBlock(x, y, z int) bool {
	return r.GetBlock(x, y, z) != voxel.Air
}

// TopY scans a column downward for the first non-air voxel. For columns in
// chunks that are not resident it falls back to the terrain formula.
func (r *Residency) TopY(x, z int) int {
	key, lx, lz := voxel.WorldToChunk(x, z)

	r.mu.RLock()
	rec, ok := r.chunks[key]
	surface := r.surface
	r.mu.RUnlock()

	if !ok {
		if surface == nil {
			return 0
		}
		return surface(x, z)
	}
	for y := voxel.ChunkHeight - 1; y >= 0; y-- {
		if rec.volume[voxel.Index(lx, y, lz)] != voxel.Air {
			return y
		}
	}
	return 0
}

// SetMeshAttached records whether the renderer currently holds a mesh for
// the chunk, so unload callbacks fire only when something is attached.
func (r *Residency) SetMeshAttached(key voxel.ChunkCoord, attached bool) {
	r.mu.Lock()
	if rec, ok := r.chunks[key]; ok {
		rec.meshAttached = attached
	}
	r.mu.Unlock()
}

// MeshAttached reports the renderer-side attachment flag.
func (r *Residency) MeshAttached(key voxel.ChunkCoord) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[key]
	return ok && rec.meshAttached
}

// IsDirty reports whether a resident chunk differs from its persisted copy.
func (r *Residency) IsDirty(key voxel.ChunkCoord) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.chunks[key]
	return ok && rec.dirty
}

// DirtyKeys lists all resident chunks awaiting persistence.
func (r *Residency) DirtyKeys() []voxel.ChunkCoord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]voxel.ChunkCoord, 0)
	for k, rec := range r.chunks {
		if rec.dirty {
			out = append(out, k)
		}
	}
	return out
}

// DirtySnapshot is an owned copy of one dirty chunk at a point in time.
type DirtySnapshot struct {
	Key     voxel.ChunkCoord
	Volume  voxel.Volume
	Version uint64
}

// SnapshotDirty copies every dirty volume so a save can proceed without
// blocking edits.
func (r *Residency) SnapshotDirty() []DirtySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DirtySnapshot, 0)
	for k, rec := range r.chunks {
		if !rec.dirty {
			continue
		}
		out = append(out, DirtySnapshot{Key: k, Volume: rec.volume.Clone(), Version: rec.version})
	}
	return out
}

// ClearDirtyIfUnchanged clears the dirty flag only when no edit landed since
// the snapshot was taken, so racing edits stay scheduled for the next save.
func (r *Residency) ClearDirtyIfUnchanged(key voxel.ChunkCoord, version uint64) {
	r.mu.Lock()
	if rec, ok := r.chunks[key]; ok && rec.version == version {
		rec.dirty = false
	}
	r.mu.Unlock()
}

// Candidate is one chunk proposed for eviction, with what the coordinator
// needs to route it through the store first.
type Candidate struct {
	Key    voxel.ChunkCoord
	Dirty  bool
	Volume voxel.Volume
}

// EvictionCandidates returns the farthest resident chunks once the soft cap
// is exceeded, at most batch of them, ordered farthest first.
func (r *Residency) EvictionCandidates(center voxel.ChunkCoord, softCap, batch int) []Candidate {
	if softCap <= 0 {
		softCap = DefaultSoftCap
	}
	if batch <= 0 {
		batch = DefaultEvictionBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.chunks) <= softCap {
		return nil
	}

	keys := make([]voxel.ChunkCoord, 0, len(r.chunks))
	for k := range r.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return voxel.DistSq(keys[i], center) > voxel.DistSq(keys[j], center)
	})

	over := len(r.chunks) - softCap
	if over > batch {
		over = batch
	}
	out := make([]Candidate, 0, over)
	for _, k := range keys[:over] {
		rec := r.chunks[k]
		out = append(out, Candidate{Key: k, Dirty: rec.dirty, Volume: rec.volume})
	}
	return out
}

// Clear drops every resident chunk.
func (r *Residency) Clear() {
	r.mu.Lock()
	r.chunks = make(map[voxel.ChunkCoord]*record)
	r.mu.Unlock()
}
