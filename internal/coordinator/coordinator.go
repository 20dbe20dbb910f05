// Package coordinator is the facade of the chunk subsystem: it slides the
// active window with the observer, routes generation through the queue,
// batches edit-driven rebuilds, and keeps dirty chunks flowing to the store.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pradigmaz/QubeForge/internal/config"
	"github.com/pradigmaz/QubeForge/internal/genqueue"
	"github.com/pradigmaz/QubeForge/internal/mesh"
	"github.com/pradigmaz/QubeForge/internal/residency"
	"github.com/pradigmaz/QubeForge/internal/store"
	"github.com/pradigmaz/QubeForge/internal/terrain"
	"github.com/pradigmaz/QubeForge/internal/voxel"
	"github.com/pradigmaz/QubeForge/internal/workerpool"
)

// metaKey names the meta record carrying the seed and caller blob.
const metaKey = "player"

// Vec3 is an observer position in world units.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Callbacks connect the coordinator to the renderer. Any hook may be nil.
type Callbacks struct {
	// OnChunkMesh delivers a freshly extracted mesh; positions are local to
	// the chunk, whose world offset is (cx·S, 0, cz·S).
	OnChunkMesh func(cx, cz int, m *mesh.Mesh)
	// OnChunkUnload retires a chunk's mesh when it leaves residency.
	OnChunkUnload func(cx, cz int)
	// OnRenderOrder hints draw ordering by squared chunk distance.
	OnRenderOrder func(cx, cz, order int)
}

// Option adjusts construction, mostly for tests.
type Option func(*Coordinator)

// WithPool substitutes the generation executor.
func WithPool(pool genqueue.GeneratorPool) Option {
	return func(c *Coordinator) {
		c.pool = pool
	}
}

// Coordinator owns the chunk subsystem's state graph.
type Coordinator struct {
	cfg *config.Config
	log *zap.Logger
	cb  Callbacks

	mu       sync.Mutex
	store    *store.Store
	pool     genqueue.GeneratorPool
	realPool *workerpool.Pool
	queue    *genqueue.Queue
	res      *residency.Residency
	gen      *terrain.Generator

	seed     uint32
	observer voxel.ChunkCoord
	tracking bool
	tick     int

	rebuildPending map[voxel.ChunkCoord]struct{}
	saveLimiter    *rate.Limiter
	opened         bool
}

// New builds an unopened coordinator.
func New(cfg *config.Config, logger *zap.Logger, cb Callbacks, opts ...Option) *Coordinator {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:            cfg,
		log:            logger,
		cb:             cb,
		rebuildPending: make(map[voxel.ChunkCoord]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) params() terrain.Params {
	return terrain.Params{
		Scale:     c.cfg.Terrain.Scale,
		Amplitude: c.cfg.Terrain.Amplitude,
		Base:      c.cfg.Terrain.Base,
	}
}

// Open initialises the store, warms the known-keys index, resolves the seed
// (argument > configured World.Seed > persisted > random), and starts the
// worker pool and queue.
func (c *Coordinator) Open(seed uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		return fmt.Errorf("coordinator already open")
	}

	s, err := store.Open(c.cfg.Store.Dir, c.log)
	if err != nil {
		return err
	}
	c.store = s
	c.log.Info("chunk store opened",
		zap.String("dir", c.cfg.Store.Dir),
		zap.Int("knownKeys", len(s.ListKeys())))

	if seed == 0 {
		seed = c.cfg.World.Seed
	}
	if seed == 0 {
		seed = c.persistedSeed()
	}
	if seed == 0 {
		seed = randomSeed()
	}
	c.seed = seed

	if c.pool == nil {
		c.realPool = workerpool.New(c.cfg.Pool.Workers, c.params(), c.log)
		c.pool = c.realPool
	}
	c.queue = genqueue.New(c.pool, s, c.seed, c.params(), genqueue.Options{
		MaxInFlight:       c.cfg.Queue.MaxInFlight,
		DispatchPerSecond: c.cfg.Queue.DispatchPerSecond,
	}, c.log)

	c.gen = terrain.NewGenerator(c.seed, c.params())
	c.res = residency.New(c.gen.SurfaceHeight, c.log)

	interval := c.cfg.Store.SaveInterval.Duration()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c.saveLimiter = rate.NewLimiter(rate.Every(interval), 1)
	// Burn the initial token so the first autosave waits a full interval.
	c.saveLimiter.Allow()

	c.opened = true
	c.log.Info("world opened", zap.Uint32("seed", c.seed))
	return nil
}

func (c *Coordinator) persistedSeed() uint32 {
	blob, ok, err := c.store.LoadMeta(metaKey)
	if err != nil || !ok {
		if err != nil {
			c.log.Warn("meta load failed", zap.Error(err))
		}
		return 0
	}
	var meta struct {
		Seed uint32 `json:"seed"`
	}
	if err := json.Unmarshal(blob, &meta); err != nil {
		c.log.Warn("meta blob unreadable", zap.Error(err))
		return 0
	}
	return meta.Seed
}

func randomSeed() uint32 {
	return uint32(rand.Int31()) | 1
}

// Seed reports the active world seed.
func (c *Coordinator) Seed() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seed
}

// SetSeed changes the seed used for future generation. The seed travels with
// each task, so in-flight work is unaffected.
func (c *Coordinator) SetSeed(seed uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applySeed(seed)
}

func (c *Coordinator) applySeed(seed uint32) {
	c.seed = seed
	c.gen = terrain.NewGenerator(seed, c.params())
	if c.res != nil {
		c.res.SetSurface(c.gen.SurfaceHeight)
	}
	if c.queue != nil {
		c.queue.SetSeed(seed)
	}
}

// Update advances one tick: recompute the active window, enqueue missing
// chunks by Manhattan distance, absorb finished generations, process the
// batched rebuild set on its cadence, and evict/persist on its own cadence.
func (c *Coordinator) Update(observer Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return
	}

	center := voxel.ChunkCoord{
		X: voxel.FloorDiv(int(math.Floor(observer.X)), voxel.ChunkSize),
		Z: voxel.FloorDiv(int(math.Floor(observer.Z)), voxel.ChunkSize),
	}
	crossed := !c.tracking || center != c.observer
	c.observer = center
	c.tracking = true
	c.tick++

	for _, off := range offsetsForRadius(c.cfg.World.Radius) {
		key := voxel.ChunkCoord{X: center.X + off[0], Z: center.Z + off[1]}
		if c.res.Has(key) {
			continue
		}
		c.queue.Enqueue(key, manhattan(off))
	}

	c.queue.Process(c.onChunk)

	if c.tick%c.cfg.World.RebuildInterval == 0 {
		c.processRebuilds()
	}

	if crossed || c.tick%c.cfg.World.EvictionInterval == 0 {
		c.evictOutsideWindow(center)
		c.evictOverCap(center)
		c.updateRenderOrder(center)
	}

	if c.saveLimiter.Allow() && len(c.res.DirtyKeys()) > 0 {
		go func() {
			if err := c.SaveDirty(nil); err != nil {
				c.log.Error("periodic save failed", zap.Error(err))
			}
		}()
	}
}

// onChunk stores a finished volume and schedules remeshing of the chunk and
// of any resident neighbours, whose conservative border faces are now stale.
func (c *Coordinator) onChunk(key voxel.ChunkCoord, vol voxel.Volume, fromStore bool) {
	c.res.Put(key, vol, !fromStore)
	c.rebuildPending[key] = struct{}{}
	for _, n := range horizontalNeighbours(key) {
		if c.res.Has(n) {
			c.rebuildPending[n] = struct{}{}
		}
	}
}

func horizontalNeighbours(key voxel.ChunkCoord) [4]voxel.ChunkCoord {
	return [4]voxel.ChunkCoord{
		{X: key.X + 1, Z: key.Z},
		{X: key.X - 1, Z: key.Z},
		{X: key.X, Z: key.Z + 1},
		{X: key.X, Z: key.Z - 1},
	}
}

// processRebuilds extracts meshes for every pending key still resident.
// Bursts of edits to one chunk collapse into a single remesh here.
func (c *Coordinator) processRebuilds() {
	if len(c.rebuildPending) == 0 {
		return
	}
	pending := c.rebuildPending
	c.rebuildPending = make(map[voxel.ChunkCoord]struct{})

	for key := range pending {
		vol, ok := c.res.Get(key)
		if !ok {
			continue
		}
		m := mesh.Build(vol, key.X, key.Z, c.res.Sample)
		c.res.SetMeshAttached(key, true)
		if c.cb.OnChunkMesh != nil {
			c.cb.OnChunkMesh(key.X, key.Z, m)
		}
	}
}

// evictOutsideWindow unloads chunks beyond the active window, persisting
// dirty ones first so durability survives the unload.
func (c *Coordinator) evictOutsideWindow(center voxel.ChunkCoord) {
	radius := c.cfg.World.Radius
	var doomed []voxel.ChunkCoord
	for _, key := range c.res.Keys() {
		if voxel.Chebyshev(key, center) > radius {
			doomed = append(doomed, key)
		}
	}
	c.dropChunks(doomed)
}

// evictOverCap trims the farthest residents once the soft cap is exceeded.
func (c *Coordinator) evictOverCap(center voxel.ChunkCoord) {
	cands := c.res.EvictionCandidates(center, c.cfg.Residency.SoftCap, c.cfg.Residency.EvictionBatch)
	if len(cands) == 0 {
		return
	}
	keys := make([]voxel.ChunkCoord, len(cands))
	for i, cand := range cands {
		keys[i] = cand.Key
	}
	c.dropChunks(keys)
}

// dropChunks persists any dirty members of the set, then removes them from
// residency and retires their meshes.
func (c *Coordinator) dropChunks(keys []voxel.ChunkCoord) {
	if len(keys) == 0 {
		return
	}

	batch := make(map[voxel.ChunkCoord]voxel.Volume)
	versions := make(map[voxel.ChunkCoord]uint64)
	dirty := make(map[voxel.ChunkCoord]bool)
	for _, snap := range c.res.SnapshotDirty() {
		batch[snap.Key] = snap.Volume
		versions[snap.Key] = snap.Version
	}
	persist := make(map[voxel.ChunkCoord]voxel.Volume)
	for _, key := range keys {
		if vol, ok := batch[key]; ok {
			persist[key] = vol
			dirty[key] = true
		}
	}
	if len(persist) > 0 {
		if err := c.store.SaveBatch(persist); err != nil {
			c.log.Error("eviction save failed, keeping dirty chunks resident", zap.Error(err))
			// Dirty chunks stay resident rather than losing edits.
			kept := keys[:0]
			for _, key := range keys {
				if !dirty[key] {
					kept = append(kept, key)
				}
			}
			keys = kept
		} else {
			for key := range persist {
				c.res.ClearDirtyIfUnchanged(key, versions[key])
			}
		}
	}

	for _, key := range keys {
		attached := c.res.MeshAttached(key)
		c.res.Remove(key)
		delete(c.rebuildPending, key)
		if attached && c.cb.OnChunkUnload != nil {
			c.cb.OnChunkUnload(key.X, key.Z)
		}
	}
}

func (c *Coordinator) updateRenderOrder(center voxel.ChunkCoord) {
	if c.cb.OnRenderOrder == nil {
		return
	}
	for _, key := range c.res.Keys() {
		if c.res.MeshAttached(key) {
			c.cb.OnRenderOrder(key.X, key.Z, voxel.DistSq(key, center))
		}
	}
}

// GetBlock reads one voxel at world coordinates.
func (c *Coordinator) GetBlock(x, y, z int) uint8 {
	return c.res.GetBlock(x, y, z)
}

// HasBlock reports whether the voxel at world coordinates is solid.
func (c *Coordinator) HasBlock(x, y, z int) bool {
	return c.res.HasBlock(x, y, z)
}

// TopY reports the highest occupied height of a world column, falling back
// to the terrain formula for ungenerated ground.
func (c *Coordinator) TopY(x, z int) int {
	return c.res.TopY(x, z)
}

// SetBlock writes one voxel. The owning chunk joins the dirty set and the
// batched rebuild set; edits on a chunk border also schedule the adjacent
// chunk so its now-exposed faces refresh.
func (c *Coordinator) SetBlock(x, y, z int, t uint8) {
	key, ok := c.res.SetBlock(x, y, z, t)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildPending[key] = struct{}{}

	lx := x - key.X*voxel.ChunkSize
	lz := z - key.Z*voxel.ChunkSize
	if lx == 0 {
		c.scheduleRebuild(voxel.ChunkCoord{X: key.X - 1, Z: key.Z})
	}
	if lx == voxel.ChunkSize-1 {
		c.scheduleRebuild(voxel.ChunkCoord{X: key.X + 1, Z: key.Z})
	}
	if lz == 0 {
		c.scheduleRebuild(voxel.ChunkCoord{X: key.X, Z: key.Z - 1})
	}
	if lz == voxel.ChunkSize-1 {
		c.scheduleRebuild(voxel.ChunkCoord{X: key.X, Z: key.Z + 1})
	}
}

func (c *Coordinator) scheduleRebuild(key voxel.ChunkCoord) {
	if c.res.Has(key) {
		c.rebuildPending[key] = struct{}{}
	}
}

// EnsureLoaded blocks until the chunk is resident and meshed, pumping the
// queue itself; used at observer spawn before physics needs the ground.
func (c *Coordinator) EnsureLoaded(ctx context.Context, cx, cz int) error {
	key := voxel.ChunkCoord{X: cx, Z: cz}
	for {
		c.mu.Lock()
		if !c.opened {
			c.mu.Unlock()
			return fmt.Errorf("coordinator not open")
		}
		if c.res.Has(key) {
			c.processRebuilds()
			c.mu.Unlock()
			return nil
		}
		c.queue.Enqueue(key, 0)
		c.queue.Process(c.onChunk)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// SaveDirty snapshots every dirty volume, writes the batch durably and
// clears flags for chunks unedited since the snapshot. The meta record is
// written on every call: metaBlob's fields (none when nil) with the seed
// field filled in.
func (c *Coordinator) SaveDirty(metaBlob []byte) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return fmt.Errorf("coordinator not open")
	}
	s := c.store
	res := c.res
	seed := c.seed
	c.mu.Unlock()

	snaps := res.SnapshotDirty()
	batch := make(map[voxel.ChunkCoord]voxel.Volume, len(snaps))
	for _, snap := range snaps {
		batch[snap.Key] = snap.Volume
	}

	if err := s.SaveMeta(metaKey, mergeSeed(metaBlob, seed)); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.SaveBatch(batch); err != nil {
		// Keys keep their dirty flags and retry on the next save.
		return err
	}
	for _, snap := range snaps {
		res.ClearDirtyIfUnchanged(snap.Key, snap.Version)
	}
	return nil
}

// mergeSeed injects the seed into the caller's opaque meta blob, leaving all
// other fields untouched.
func mergeSeed(blob []byte, seed uint32) []byte {
	meta := make(map[string]any)
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &meta); err != nil {
			meta = map[string]any{"blob": string(blob)}
		}
	}
	meta["seed"] = seed
	out, err := json.Marshal(meta)
	if err != nil {
		out = []byte(fmt.Sprintf(`{"seed":%d}`, seed))
	}
	return out
}

// Clear abandons all in-memory and persisted state and reseeds the world.
func (c *Coordinator) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return fmt.Errorf("coordinator not open")
	}

	c.queue.Clear()
	for _, key := range c.res.Keys() {
		if c.res.MeshAttached(key) && c.cb.OnChunkUnload != nil {
			c.cb.OnChunkUnload(key.X, key.Z)
		}
	}
	c.res.Clear()
	c.rebuildPending = make(map[voxel.ChunkCoord]struct{})

	if err := c.store.Clear(); err != nil {
		return err
	}
	c.applySeed(randomSeed())
	c.log.Info("world cleared", zap.Uint32("seed", c.seed))
	return nil
}

// Close terminates the pool and releases the store.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	c.opened = false
	if c.realPool != nil {
		c.realPool.Terminate()
	}
	return c.store.Close()
}
