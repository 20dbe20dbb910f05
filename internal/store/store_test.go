package store

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/pradigmaz/QubeForge/internal/voxel"
)

func testVolume(fill uint8) voxel.Volume {
	vol := voxel.NewVolume()
	for i := range vol {
		vol[i] = fill
	}
	return vol
}

func TestSaveBatchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	batch := map[voxel.ChunkCoord]voxel.Volume{
		{X: 0, Z: 0}:  testVolume(1),
		{X: -1, Z: 3}: testVolume(2),
	}
	if err := s.SaveBatch(batch); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The index must rebuild from the log alone.
	s, err = Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if got := len(s.ListKeys()); got != 2 {
		t.Fatalf("ListKeys length %d, want 2", got)
	}
	for key, want := range batch {
		if !s.Known(key) {
			t.Fatalf("key %s not known after reopen", key)
		}
		got, ok, err := s.Load(key)
		if err != nil || !ok {
			t.Fatalf("Load %s: ok=%v err=%v", key, ok, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("volume mismatch for %s", key)
		}
	}
}

func TestLastWriteWins(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := voxel.ChunkCoord{X: 5, Z: -7}
	if err := s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: testVolume(1)}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: testVolume(9)}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, ok, err := s.Load(key)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got[0] != 9 {
		t.Fatalf("stale value %d, want 9", got[0])
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := voxel.ChunkCoord{X: 2, Z: 2}
	if err := s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: testVolume(4)}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Known(key) {
		t.Fatal("key still known after delete")
	}
	if _, ok, _ := s.Load(key); ok {
		t.Fatal("load succeeded after delete")
	}
}

func TestClearDropsBothStores(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := voxel.ChunkCoord{X: 1, Z: 1}
	if err := s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: testVolume(3)}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	if err := s.SaveMeta("player", []byte(`{"seed":42}`)); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(s.ListKeys()) != 0 {
		t.Fatal("chunk keys survived clear")
	}
	if _, ok, _ := s.LoadMeta("player"); ok {
		t.Fatal("meta survived clear")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	blob := []byte(`{"seed":1234567,"pos":[8,40,20]}`)
	if err := s.SaveMeta("player", blob); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	s.Close()

	s, err = Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, ok, err := s.LoadMeta("player")
	if err != nil || !ok {
		t.Fatalf("LoadMeta: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("meta mismatch: %s", got)
	}
}

func TestConcurrentLoadAndSaveSameKey(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := voxel.ChunkCoord{X: 0, Z: 0}
	prior := testVolume(1)
	next := testVolume(2)
	if err := s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: prior}); err != nil {
		t.Fatalf("seed save: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: next})
	}()

	var loadErr error
	var loaded voxel.Volume
	go func() {
		defer wg.Done()
		for i := 0; i < 64; i++ {
			vol, ok, err := s.Load(key)
			if err != nil {
				loadErr = err
				return
			}
			if !ok {
				loadErr = errors.New("key vanished mid-save")
				return
			}
			if vol[0] != 1 && vol[0] != 2 {
				loadErr = errors.New("partial write observed")
				return
			}
			loaded = vol
		}
	}()
	wg.Wait()

	if loadErr != nil {
		t.Fatalf("concurrent load: %v", loadErr)
	}
	if loaded == nil {
		t.Fatal("no load completed")
	}
}

func TestLoadOwnedCopies(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	key := voxel.ChunkCoord{X: 9, Z: 9}
	if err := s.SaveBatch(map[voxel.ChunkCoord]voxel.Volume{key: testVolume(7)}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	first, _, _ := s.Load(key)
	first[0] = 200
	second, _, _ := s.Load(key)
	if second[0] != 7 {
		t.Fatalf("loads share backing memory: got %d", second[0])
	}
}
