package workerpool

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pradigmaz/QubeForge/internal/terrain"
	"github.com/pradigmaz/QubeForge/internal/voxel"
)

func await(t *testing.T, ch <-chan TaskResult) TaskResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("task future never completed")
		return TaskResult{}
	}
}

func TestGenerateMatchesSynchronousPath(t *testing.T) {
	p := New(2, terrain.DefaultParams(), nil)
	defer p.Terminate()

	res := await(t, p.Generate(3, -2, 1234567))
	if res.Err != nil {
		t.Fatalf("Generate: %v", res.Err)
	}
	want := terrain.Generate(3, -2, 1234567, terrain.DefaultParams())
	if !bytes.Equal(res.Volume, want) {
		t.Fatal("worker output differs from synchronous generation")
	}
}

func TestSeedTravelsWithTask(t *testing.T) {
	p := New(1, terrain.DefaultParams(), nil)
	defer p.Terminate()

	first := await(t, p.Generate(0, 0, 1))
	second := await(t, p.Generate(0, 0, 2))
	if first.Err != nil || second.Err != nil {
		t.Fatalf("generate errors: %v / %v", first.Err, second.Err)
	}
	if bytes.Equal(first.Volume, second.Volume) {
		t.Fatal("worker ignored per-task seed change")
	}
	if !bytes.Equal(second.Volume, terrain.Generate(0, 0, 2, terrain.DefaultParams())) {
		t.Fatal("second seed output wrong")
	}
}

func TestTerminateFailsNewTasks(t *testing.T) {
	p := New(1, terrain.DefaultParams(), nil)
	p.Terminate()

	res := await(t, p.Generate(0, 0, 7))
	var wf *voxel.WorkerFailedError
	if !errors.As(res.Err, &wf) {
		t.Fatalf("expected WorkerFailedError after terminate, got %v", res.Err)
	}
	if p.Available() {
		t.Fatal("pool still reports available after terminate")
	}
}

func TestClearQueueResolvesCancelled(t *testing.T) {
	p := New(1, terrain.DefaultParams(), nil)
	defer p.Terminate()

	// Saturate the single worker, then stack pending tasks behind it.
	futures := make([]<-chan TaskResult, 0, 64)
	for i := 0; i < 64; i++ {
		futures = append(futures, p.Generate(i, i, 9))
	}
	p.ClearQueue()

	cancelled := 0
	for _, f := range futures {
		res := await(t, f)
		if errors.Is(res.Err, voxel.ErrCancelled) {
			cancelled++
			continue
		}
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if len(res.Volume) != voxel.VolumeLen {
			t.Fatalf("completed task has bad volume length %d", len(res.Volume))
		}
	}
	if cancelled == 0 {
		t.Fatal("clear queue cancelled nothing")
	}
}

func TestDefaultWorkersBounded(t *testing.T) {
	n := DefaultWorkers()
	if n < 1 || n > MaxWorkers {
		t.Fatalf("DefaultWorkers() = %d, want within [1,%d]", n, MaxWorkers)
	}
}
