// Package genqueue orders pending chunk generation by priority, dedupes keys
// against work already queued or executing, bounds in-flight concurrency, and
// prefers a persistence read over regeneration when the store knows the key.
package genqueue

import (
	"container/heap"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pradigmaz/QubeForge/internal/terrain"
	"github.com/pradigmaz/QubeForge/internal/voxel"
	"github.com/pradigmaz/QubeForge/internal/workerpool"
)

// DefaultMaxInFlight bounds concurrent generations admitted by the queue,
// independent of the pool's own worker count.
const DefaultMaxInFlight = 2

// GeneratorPool is the executor the queue dispatches to.
type GeneratorPool interface {
	Generate(cx, cz int, seed uint32) <-chan workerpool.TaskResult
	Available() bool
}

// ChunkLoader answers persistence-hit fast paths.
type ChunkLoader interface {
	Known(key voxel.ChunkCoord) bool
	Load(key voxel.ChunkCoord) (voxel.Volume, bool, error)
}

// OnChunk delivers a finished volume. fromStore distinguishes loads (clean)
// from fresh generations (dirty until first save).
type OnChunk func(key voxel.ChunkCoord, vol voxel.Volume, fromStore bool)

type item struct {
	key      voxel.ChunkCoord
	priority int
	seq      uint64
	index    int
}

// itemHeap orders by priority (lower = more urgent), ties by enqueue order.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

type completion struct {
	key       voxel.ChunkCoord
	volume    voxel.Volume
	fromStore bool
	epoch     uint64
	dropped   bool
}

// Queue is the priority-ordered pending set with bounded dispatch.
type Queue struct {
	mu          sync.Mutex
	pending     itemHeap
	pendingKeys map[voxel.ChunkCoord]*item
	inFlight    map[voxel.ChunkCoord]struct{}
	nextSeq     uint64
	epoch       uint64

	results chan completion

	pool        GeneratorPool
	loader      ChunkLoader
	seed        uint32
	params      terrain.Params
	maxInFlight int
	limiter     *rate.Limiter
	log         *zap.Logger
}

// Options tune queue behaviour beyond the defaults.
type Options struct {
	MaxInFlight int
	// DispatchPerSecond throttles dispatch globally; zero means unlimited.
	DispatchPerSecond float64
}

// New builds a queue over a pool and an optional loader. A nil pool forces
// the synchronous degraded path.
func New(pool GeneratorPool, loader ChunkLoader, seed uint32, params terrain.Params, opts Options, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	limit := rate.Inf
	if opts.DispatchPerSecond > 0 {
		limit = rate.Limit(opts.DispatchPerSecond)
	}
	return &Queue{
		pendingKeys: make(map[voxel.ChunkCoord]*item),
		inFlight:    make(map[voxel.ChunkCoord]struct{}),
		results:     make(chan completion, 256),
		pool:        pool,
		loader:      loader,
		seed:        seed,
		params:      params,
		maxInFlight: maxInFlight,
		limiter:     rate.NewLimiter(limit, maxInFlight),
		log:         logger,
	}
}

// SetSeed changes the seed attached to future dispatches. Tasks already
// dispatched keep the seed they were created with.
func (q *Queue) SetSeed(seed uint32) {
	q.mu.Lock()
	q.seed = seed
	q.mu.Unlock()
}

// Enqueue registers a chunk for generation unless it is already pending or
// executing. Re-enqueueing a pending key with a more urgent priority
// reprioritises it in place.
func (q *Queue) Enqueue(key voxel.ChunkCoord, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[key]; ok {
		return
	}
	if existing, ok := q.pendingKeys[key]; ok {
		if priority < existing.priority {
			existing.priority = priority
			heap.Fix(&q.pending, existing.index)
		}
		return
	}
	q.nextSeq++
	it := &item{key: key, priority: priority, seq: q.nextSeq}
	q.pendingKeys[key] = it
	heap.Push(&q.pending, it)
}

// PendingLen reports queued-but-not-dispatched work.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// InFlight reports the number of executing generations or loads.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Process drains finished work, then dispatches as many pending items as the
// in-flight bound and rate limiter admit. Returns the number of chunks
// delivered to onChunk this tick.
func (q *Queue) Process(onChunk OnChunk) int {
	delivered := q.drain(onChunk)

	for {
		q.mu.Lock()
		if len(q.inFlight) >= q.maxInFlight || q.pending.Len() == 0 || !q.limiter.Allow() {
			q.mu.Unlock()
			break
		}
		it := heap.Pop(&q.pending).(*item)
		delete(q.pendingKeys, it.key)
		q.inFlight[it.key] = struct{}{}
		seed := q.seed
		epoch := q.epoch
		q.mu.Unlock()

		q.dispatch(it.key, seed, epoch)
	}

	// Synchronous fallbacks complete within dispatch, so a second drain
	// delivers them on the same tick.
	delivered += q.drain(onChunk)
	return delivered
}

func (q *Queue) drain(onChunk OnChunk) int {
	delivered := 0
	for {
		select {
		case c := <-q.results:
			q.mu.Lock()
			delete(q.inFlight, c.key)
			stale := c.epoch != q.epoch
			q.mu.Unlock()
			if c.dropped || stale {
				continue
			}
			onChunk(c.key, c.volume, c.fromStore)
			delivered++
		default:
			return delivered
		}
	}
}

func (q *Queue) dispatch(key voxel.ChunkCoord, seed uint32, epoch uint64) {
	if q.loader != nil && q.loader.Known(key) {
		go q.loadChunk(key, seed, epoch)
		return
	}
	if q.pool != nil && q.pool.Available() {
		future := q.pool.Generate(key.X, key.Z, seed)
		go q.awaitGeneration(key, seed, epoch, future)
		return
	}
	// Degraded path: no executor, generate on the caller's thread.
	vol := terrain.Generate(key.X, key.Z, seed, q.params)
	q.results <- completion{key: key, volume: vol, epoch: epoch}
}

func (q *Queue) loadChunk(key voxel.ChunkCoord, seed uint32, epoch uint64) {
	vol, ok, err := q.loader.Load(key)
	if err != nil || !ok {
		miss := &voxel.LoadMissError{Key: key}
		q.log.Warn("store load missed known key, regenerating",
			zap.String("chunk", key.Key()), zap.String("miss", miss.Error()), zap.Error(err))
		vol = terrain.Generate(key.X, key.Z, seed, q.params)
		q.results <- completion{key: key, volume: vol, epoch: epoch}
		return
	}
	q.results <- completion{key: key, volume: vol, fromStore: true, epoch: epoch}
}

func (q *Queue) awaitGeneration(key voxel.ChunkCoord, seed uint32, epoch uint64, future <-chan workerpool.TaskResult) {
	res := <-future
	switch {
	case res.Err == nil:
		q.results <- completion{key: key, volume: res.Volume, epoch: epoch}
	case errors.Is(res.Err, voxel.ErrCancelled):
		q.results <- completion{key: key, epoch: epoch, dropped: true}
	default:
		q.log.Warn("worker failed, generating synchronously",
			zap.String("chunk", key.Key()), zap.Error(res.Err))
		vol := terrain.Generate(key.X, key.Z, seed, q.params)
		q.results <- completion{key: key, volume: vol, epoch: epoch}
	}
}

// Clear cancels pending work and discards results of in-flight tasks. The
// pending set empties immediately; executing tasks finish and are dropped.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = q.pending[:0]
	q.pendingKeys = make(map[voxel.ChunkCoord]*item)
	q.epoch++
	q.mu.Unlock()

	if clearer, ok := q.pool.(interface{ ClearQueue() }); ok && q.pool != nil {
		clearer.ClearQueue()
	}
}
