// Package config captures the tunable parameters of the chunk subsystem and
// loads them from JSON or YAML files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a JSON- and YAML-friendly wrapper around time.Duration that
// accepts human readable strings such as "150ms" in configuration files
// while still allowing numeric representations when necessary.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values
// decode to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// MarshalYAML encodes the duration as its canonical string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML decodes a duration from a YAML string or integer node.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	// Integers are tried first: any scalar, numeric ones included, also
	// decodes into a string.
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var s string
	if err := node.Decode(&s); err == nil {
		return d.parse(s)
	}
	return fmt.Errorf("duration: invalid yaml value %q", node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures the tunable parameters needed to bootstrap the world.
type Config struct {
	World     WorldConfig     `json:"world" yaml:"world"`
	Terrain   TerrainConfig   `json:"terrain" yaml:"terrain"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Pool      PoolConfig      `json:"pool" yaml:"pool"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Residency ResidencyConfig `json:"residency" yaml:"residency"`
}

type WorldConfig struct {
	Seed             uint32   `json:"seed" yaml:"seed"`                         // 0 = persisted seed or random
	Radius           int      `json:"radius" yaml:"radius"`                     // active window half-width in chunks
	TickRate         Duration `json:"tickRate" yaml:"tickRate"`                 // e.g. "33ms"
	EvictionInterval int      `json:"evictionInterval" yaml:"evictionInterval"` // ticks between eviction passes
	RebuildInterval  int      `json:"rebuildInterval" yaml:"rebuildInterval"`   // ticks between batched remeshes
}

type TerrainConfig struct {
	Scale     float64 `json:"scale" yaml:"scale"`
	Amplitude float64 `json:"amplitude" yaml:"amplitude"`
	Base      int     `json:"base" yaml:"base"`
}

type StoreConfig struct {
	Dir          string   `json:"dir" yaml:"dir"`
	SaveInterval Duration `json:"saveInterval" yaml:"saveInterval"` // periodic autosave of dirty chunks
}

type PoolConfig struct {
	Workers int `json:"workers" yaml:"workers"` // 0 = min(hardware concurrency, 4)
}

type QueueConfig struct {
	MaxInFlight       int     `json:"maxInFlight" yaml:"maxInFlight"`             // concurrent generations admitted
	DispatchPerSecond float64 `json:"dispatchPerSecond" yaml:"dispatchPerSecond"` // 0 = unlimited
}

type ResidencyConfig struct {
	SoftCap       int `json:"softCap" yaml:"softCap"`
	EvictionBatch int `json:"evictionBatch" yaml:"evictionBatch"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension.
// An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		World: WorldConfig{
			Seed:             0,
			Radius:           3,
			TickRate:         Duration(33 * time.Millisecond),
			EvictionInterval: 3,
			RebuildInterval:  2,
		},
		Terrain: TerrainConfig{
			Scale:     50,
			Amplitude: 8,
			Base:      20,
		},
		Store: StoreConfig{
			Dir:          "data/world",
			SaveInterval: Duration(30 * time.Second),
		},
		Pool: PoolConfig{
			Workers: 0,
		},
		Queue: QueueConfig{
			MaxInFlight:       2,
			DispatchPerSecond: 0,
		},
		Residency: ResidencyConfig{
			SoftCap:       500,
			EvictionBatch: 50,
		},
	}
}

func (c *Config) Validate() error {
	if c.World.Radius <= 0 {
		return errors.New("world.radius must be positive")
	}
	if c.World.EvictionInterval <= 0 {
		return errors.New("world.evictionInterval must be positive")
	}
	if c.World.RebuildInterval <= 0 {
		return errors.New("world.rebuildInterval must be positive")
	}
	if c.Terrain.Scale <= 0 {
		return errors.New("terrain.scale must be positive")
	}
	if c.Terrain.Amplitude < 0 {
		return errors.New("terrain.amplitude cannot be negative")
	}
	if c.Terrain.Base <= 0 {
		return errors.New("terrain.base must be positive")
	}
	if c.Store.Dir == "" {
		return errors.New("store.dir must be set")
	}
	if c.Pool.Workers < 0 {
		return errors.New("pool.workers cannot be negative")
	}
	if c.Queue.MaxInFlight <= 0 {
		return errors.New("queue.maxInFlight must be positive")
	}
	if c.Queue.DispatchPerSecond < 0 {
		return errors.New("queue.dispatchPerSecond cannot be negative")
	}
	if c.Residency.SoftCap <= 0 {
		return errors.New("residency.softCap must be positive")
	}
	if c.Residency.EvictionBatch <= 0 {
		return errors.New("residency.evictionBatch must be positive")
	}
	return nil
}
