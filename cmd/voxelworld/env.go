package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pradigmaz/QubeForge/internal/config"
)

// Environment overrides let scripted and CI runs tune a world without
// writing a config file. They apply on top of the loaded configuration and
// below the command-line flags.
const (
	envSeed    = "VOXELWORLD_SEED"
	envDataDir = "VOXELWORLD_DATA"
	envRadius  = "VOXELWORLD_RADIUS"
)

func applyEnvOverrides(cfg *config.Config) error {
	if v := os.Getenv(envSeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envSeed, err)
		}
		cfg.World.Seed = uint32(seed)
	}
	if v := os.Getenv(envDataDir); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv(envRadius); v != "" {
		radius, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envRadius, err)
		}
		cfg.World.Radius = radius
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate overridden config: %w", err)
	}
	return nil
}
