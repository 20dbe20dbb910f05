// Package store provides the durable chunk map: an on-disk key→volume log
// plus a small meta log carrying the world seed and caller blobs. RAM
// residency is a cache; this store is the source of truth across sessions.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pradigmaz/QubeForge/internal/voxel"
)

const (
	chunksLogName = "chunks.log"
	metaLogName   = "meta.log"
)

// Store persists chunk volumes and meta blobs beneath one directory.
type Store struct {
	dir    string
	chunks *recordLog
	meta   *recordLog
	loads  singleflight.Group
	log    *zap.Logger
}

// Open initialises the store directory and warms the key index. Failures are
// reported as ErrStoreUnavailable so the coordinator can refuse to open.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %v", voxel.ErrStoreUnavailable, err)
	}
	chunks, err := openRecordLog(filepath.Join(dir, chunksLogName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", voxel.ErrStoreUnavailable, err)
	}
	meta, err := openRecordLog(filepath.Join(dir, metaLogName))
	if err != nil {
		chunks.close()
		return nil, fmt.Errorf("%w: %v", voxel.ErrStoreUnavailable, err)
	}
	return &Store{dir: dir, chunks: chunks, meta: meta, log: logger}, nil
}

// Load fetches one chunk volume. Concurrent loads of the same key are
// collapsed into a single disk read; each caller receives an owned copy.
func (s *Store) Load(key voxel.ChunkCoord) (voxel.Volume, bool, error) {
	type loaded struct {
		data []byte
		ok   bool
	}
	v, err, _ := s.loads.Do(key.Key(), func() (any, error) {
		data, ok, err := s.chunks.get(key.Key())
		if err != nil {
			return nil, err
		}
		return loaded{data: data, ok: ok}, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("load chunk %s: %w", key, err)
	}
	res := v.(loaded)
	if !res.ok {
		return nil, false, nil
	}
	if len(res.data) != voxel.VolumeLen {
		return nil, false, fmt.Errorf("load chunk %s: corrupt volume length %d", key, len(res.data))
	}
	dup := make(voxel.Volume, voxel.VolumeLen)
	copy(dup, res.data)
	return dup, true, nil
}

// SaveBatch durably writes a snapshot of volumes. Each key commits
// independently; keys that failed are reported through PersistFailedError
// and stay eligible for the next save.
func (s *Store) SaveBatch(batch map[voxel.ChunkCoord]voxel.Volume) error {
	if len(batch) == 0 {
		return nil
	}

	keys := make([]voxel.ChunkCoord, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Z < keys[j].Z
	})

	var failed []voxel.ChunkCoord
	var firstErr error
	for _, k := range keys {
		if err := s.chunks.set(k.Key(), batch[k]); err != nil {
			s.log.Error("chunk write failed", zap.String("chunk", k.Key()), zap.Error(err))
			failed = append(failed, k)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.chunks.sync(); err != nil {
		return &voxel.PersistFailedError{Keys: keys, Err: err}
	}
	if len(failed) > 0 {
		return &voxel.PersistFailedError{Keys: failed, Err: firstErr}
	}
	return nil
}

// Delete removes one chunk from the store.
func (s *Store) Delete(key voxel.ChunkCoord) error {
	if err := s.chunks.delete(key.Key()); err != nil {
		return fmt.Errorf("delete chunk %s: %w", key, err)
	}
	return s.chunks.sync()
}

// ListKeys returns every chunk key present in the store, warmed from the
// index built at open. Malformed keys are logged and skipped.
func (s *Store) ListKeys() []voxel.ChunkCoord {
	raw := s.chunks.keys()
	out := make([]voxel.ChunkCoord, 0, len(raw))
	for _, k := range raw {
		coord, err := voxel.ParseKey(k)
		if err != nil {
			s.log.Warn("skipping malformed chunk key", zap.String("key", k), zap.Error(err))
			continue
		}
		out = append(out, coord)
	}
	return out
}

// Known reports whether a chunk key is present in the store index without
// touching the disk.
func (s *Store) Known(key voxel.ChunkCoord) bool {
	return s.chunks.has(key.Key())
}

// SaveMeta durably writes an opaque blob under a meta key.
func (s *Store) SaveMeta(name string, blob []byte) error {
	if err := s.meta.set(name, blob); err != nil {
		return fmt.Errorf("save meta %q: %w", name, err)
	}
	return s.meta.sync()
}

// LoadMeta fetches an opaque blob by meta key.
func (s *Store) LoadMeta(name string) ([]byte, bool, error) {
	data, ok, err := s.meta.get(name)
	if err != nil {
		return nil, false, fmt.Errorf("load meta %q: %w", name, err)
	}
	return data, ok, nil
}

// Clear drops both logs; used when starting a new world.
func (s *Store) Clear() error {
	if err := s.chunks.clear(); err != nil {
		return err
	}
	return s.meta.clear()
}

// Close releases the underlying files.
func (s *Store) Close() error {
	chunkErr := s.chunks.close()
	metaErr := s.meta.close()
	if chunkErr != nil {
		return chunkErr
	}
	return metaErr
}
