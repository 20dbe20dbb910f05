// Package workerpool executes terrain synthesis on long-lived workers. Each
// worker rebuilds its noise sampler from the seed travelling with the task,
// so a seed change mid-flight never poisons later results, and finished
// volumes transfer ownership to the caller.
package workerpool

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/pradigmaz/QubeForge/internal/terrain"
	"github.com/pradigmaz/QubeForge/internal/voxel"
)

// MaxWorkers caps the pool regardless of hardware parallelism.
const MaxWorkers = 4

// Message kinds of the worker protocol.
const (
	KindReady  = "ready"
	KindResult = "result"
	KindError  = "error"
)

// GenRequest is one generation task as it crosses the worker boundary.
type GenRequest struct {
	ID          uint64 `json:"id"`
	CX          int32  `json:"cx"`
	CZ          int32  `json:"cz"`
	Seed        uint32 `json:"seed"`
	ChunkSize   uint32 `json:"chunk_size"`
	ChunkHeight uint32 `json:"chunk_height"`
}

// GenResponse is a worker's reply: a boot-time ready marker, a finished
// volume whose buffer transfers ownership, or an error report.
type GenResponse struct {
	Kind   string `json:"kind"`
	ID     uint64 `json:"id,omitempty"`
	CX     int32  `json:"cx,omitempty"`
	CZ     int32  `json:"cz,omitempty"`
	Data   []byte `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TaskResult completes a Generate future exactly once with either an owned
// volume or an error.
type TaskResult struct {
	Volume voxel.Volume
	Err    error
}

type task struct {
	req GenRequest
	out chan TaskResult
}

// Pool is a fixed set of generation workers fed from a shared queue.
type Pool struct {
	params terrain.Params
	log    *zap.Logger

	tasks chan task

	mu         sync.Mutex
	nextID     uint64
	terminated bool
	workers    int
}

// DefaultWorkers picks min(hardware concurrency, MaxWorkers).
func DefaultWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n > MaxWorkers {
		n = MaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// New starts the workers and blocks until each has reported ready.
func New(workers int, params terrain.Params, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		params:  params,
		log:     logger,
		tasks:   make(chan task, 1024),
		workers: workers,
	}

	ready := make(chan GenResponse, workers)
	for i := 0; i < workers; i++ {
		go p.worker(i, ready)
	}
	for i := 0; i < workers; i++ {
		<-ready
	}
	return p
}

// Workers reports the executor capacity ceiling.
func (p *Pool) Workers() int {
	return p.workers
}

// Available reports whether the pool can still accept tasks.
func (p *Pool) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.terminated
}

// Generate enqueues a chunk synthesis task. The returned channel completes
// exactly once; pending tasks resolve Cancelled when the queue is cleared.
func (p *Pool) Generate(cx, cz int, seed uint32) <-chan TaskResult {
	out := make(chan TaskResult, 1)

	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		out <- TaskResult{Err: &voxel.WorkerFailedError{
			Key:    voxel.ChunkCoord{X: cx, Z: cz},
			Reason: "pool terminated",
		}}
		return out
	}
	p.nextID++
	req := GenRequest{
		ID:          p.nextID,
		CX:          int32(cx),
		CZ:          int32(cz),
		Seed:        seed,
		ChunkSize:   voxel.ChunkSize,
		ChunkHeight: voxel.ChunkHeight,
	}
	// The send stays under the lock so Terminate cannot close the channel
	// between the terminated check and the enqueue.
	select {
	case p.tasks <- task{req: req, out: out}:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		out <- TaskResult{Err: &voxel.WorkerFailedError{
			Key:    voxel.ChunkCoord{X: cx, Z: cz},
			Reason: "task queue full",
		}}
	}
	return out
}

// ClearQueue cancels all queued tasks; their futures resolve Cancelled.
// Tasks already picked up by a worker run to completion.
func (p *Pool) ClearQueue() {
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			t.out <- TaskResult{Err: voxel.ErrCancelled}
		default:
			return
		}
	}
}

// Terminate cancels the queue and stops the workers.
func (p *Pool) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return
	}
	p.terminated = true
	p.ClearQueue()
	close(p.tasks)
}

func (p *Pool) worker(id int, ready chan<- GenResponse) {
	ready <- GenResponse{Kind: KindReady}

	for t := range p.tasks {
		resp := p.execute(t.req)
		if resp.Kind == KindError {
			p.log.Warn("generation task failed",
				zap.Int("worker", id),
				zap.Int32("cx", resp.CX),
				zap.Int32("cz", resp.CZ),
				zap.String("reason", resp.Reason))
			t.out <- TaskResult{Err: &voxel.WorkerFailedError{
				Key:    voxel.ChunkCoord{X: int(resp.CX), Z: int(resp.CZ)},
				Reason: resp.Reason,
			}}
			continue
		}
		t.out <- TaskResult{Volume: voxel.Volume(resp.Data)}
	}
}

// execute runs one task in isolation, converting panics into error replies
// so a bad task never takes the worker down.
func (p *Pool) execute(req GenRequest) (resp GenResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = GenResponse{
				Kind:   KindError,
				ID:     req.ID,
				CX:     req.CX,
				CZ:     req.CZ,
				Reason: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	vol := terrain.Generate(int(req.CX), int(req.CZ), req.Seed, p.params)
	return GenResponse{
		Kind: KindResult,
		ID:   req.ID,
		CX:   req.CX,
		CZ:   req.CZ,
		Data: vol,
	}
}
