package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pradigmaz/QubeForge/internal/config"
	"github.com/pradigmaz/QubeForge/internal/coordinator"
	"github.com/pradigmaz/QubeForge/internal/mesh"
	"github.com/pradigmaz/QubeForge/internal/voxel"
)

func main() {
	var (
		cfgPath string
		dataDir string
		seed    uint
	)
	flag.StringVar(&cfgPath, "config", "", "path to configuration file (json or yaml)")
	flag.StringVar(&dataDir, "data", "", "override store directory")
	flag.UintVar(&seed, "seed", 0, "world seed (0 = configured, persisted or random)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		log.Fatalf("apply environment overrides: %v", err)
	}
	if dataDir != "" {
		cfg.Store.Dir = dataDir
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("initialise logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signalContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger, uint32(seed)); err != nil {
		logger.Fatal("world exited with error", zap.Error(err))
	}
}

// run opens the world, walks a scripted observer path until the context is
// cancelled, and saves dirty chunks on the way out.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, seed uint32) error {
	world := coordinator.New(cfg, logger, renderSink(logger))
	if err := world.Open(seed); err != nil {
		return err
	}
	defer world.Close()

	if err := world.EnsureLoaded(ctx, 0, 0); err != nil {
		return err
	}

	observer := coordinator.Vec3{X: 8, Y: 40, Z: 8}
	observer.Y = float64(world.TopY(int(observer.X), int(observer.Z)) + 2)
	logger.Info("observer spawned",
		zap.Float64("x", observer.X),
		zap.Float64("y", observer.Y),
		zap.Float64("z", observer.Z),
		zap.Uint32("seed", world.Seed()))

	tickRate := cfg.World.TickRate.Duration()
	if tickRate <= 0 {
		tickRate = 33 * time.Millisecond
	}
	ticker := time.NewTicker(tickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return saveOnExit(world, observer, logger)
		case <-ticker.C:
			// Drift slowly across the world so the sliding window exercises
			// load, rebuild and eviction.
			observer.X += 0.5
			observer.Z += 0.25
			observer.Y = float64(world.TopY(int(observer.X), int(observer.Z)) + 2)
			world.Update(observer)
		}
	}
}

func saveOnExit(world *coordinator.Coordinator, observer coordinator.Vec3, logger *zap.Logger) error {
	blob, err := json.Marshal(map[string]any{
		"pos": []float64{observer.X, observer.Y, observer.Z},
	})
	if err != nil {
		blob = nil
	}
	if err := world.SaveDirty(blob); err != nil {
		var pf *voxel.PersistFailedError
		if errors.As(err, &pf) {
			logger.Error("shutdown save left dirty chunks",
				zap.Int("unsaved", len(pf.Keys)), zap.Error(err))
		}
		return err
	}
	logger.Info("world saved")
	return nil
}

// renderSink stands in for the renderer: it logs mesh traffic instead of
// uploading buffers.
func renderSink(logger *zap.Logger) coordinator.Callbacks {
	return coordinator.Callbacks{
		OnChunkMesh: func(cx, cz int, m *mesh.Mesh) {
			logger.Debug("chunk mesh",
				zap.Int("cx", cx), zap.Int("cz", cz),
				zap.Int("faces", m.FaceCount()))
		},
		OnChunkUnload: func(cx, cz int) {
			logger.Debug("chunk unloaded", zap.Int("cx", cx), zap.Int("cz", cz))
		},
	}
}

func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(10*time.Second, func() {
			logger.Error("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
