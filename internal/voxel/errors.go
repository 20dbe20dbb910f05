package voxel

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for faults recovered without dedicated payloads.
var (
	// ErrStoreUnavailable means the durable store could not be opened.
	ErrStoreUnavailable = errors.New("chunk store unavailable")
	// ErrInvalidCoord flags a y coordinate outside [0, ChunkHeight).
	ErrInvalidCoord = errors.New("coordinate outside world bounds")
	// ErrCancelled resolves futures abandoned by a queue clear.
	ErrCancelled = errors.New("cancelled")
)

// PersistFailedError reports the subset of a save batch that did not commit.
// The keys remain dirty and are retried on the next save.
type PersistFailedError struct {
	Keys []ChunkCoord
	Err  error
}

func (e *PersistFailedError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = k.Key()
	}
	return fmt.Sprintf("persist failed for %d chunk(s) [%s]: %v", len(e.Keys), strings.Join(keys, " "), e.Err)
}

func (e *PersistFailedError) Unwrap() error {
	return e.Err
}

// WorkerFailedError reports a generation task that threw or exited. The queue
// recovers by generating synchronously.
type WorkerFailedError struct {
	Key    ChunkCoord
	Reason string
}

func (e *WorkerFailedError) Error() string {
	return fmt.Sprintf("worker failed for chunk %s: %s", e.Key, e.Reason)
}

// LoadMissError reports a key present in the known-keys index whose load
// returned nothing. The queue recovers by regenerating.
type LoadMissError struct {
	Key ChunkCoord
}

func (e *LoadMissError) Error() string {
	return fmt.Sprintf("chunk %s missing from store despite known key", e.Key)
}
