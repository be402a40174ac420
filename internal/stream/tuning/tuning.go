package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/terrain/gen"
)

type Tuning struct {
	FrameRateHz       int `yaml:"frame_rate_hz"`
	FeedbackTimeoutMs int `yaml:"feedback_timeout_ms"`
	DigestEveryFrames int `yaml:"digest_every_frames"`
	// SnapshotEveryFrames writes a manager snapshot every N frames; 0 disables it.
	SnapshotEveryFrames int `yaml:"snapshot_every_frames"`

	Grid    Grid    `yaml:"grid"`
	Cache   Cache   `yaml:"cache"`
	Shading Shading `yaml:"shading"`
	Queues  Queues  `yaml:"queues"`
	Terrain Terrain `yaml:"terrain"`
}

type Grid struct {
	Dims []int `yaml:"dims"`
	// Origin is the world brick coordinate of grid cell (0,0,0).
	Origin []int `yaml:"origin"`
}

type Cache struct {
	Capacity int `yaml:"capacity"`
}

type Shading struct {
	Buckets           int `yaml:"buckets"`
	ElementsPerBucket int `yaml:"elements_per_bucket"`
}

type Queues struct {
	MaxRequests     int `yaml:"max_requests"`
	MaxGridUploads  int `yaml:"max_grid_uploads"`
	MaxBrickUploads int `yaml:"max_brick_uploads"`
}

type Terrain struct {
	Kind       string  `yaml:"kind"`
	Seed       int64   `yaml:"seed"`
	Frequency  float64 `yaml:"frequency"`
	Octaves    int     `yaml:"octaves"`
	Gain       float64 `yaml:"gain"`
	Lacunarity float64 `yaml:"lacunarity"`
	// ChunkDims is the chunk size in bricks.
	ChunkDims []int `yaml:"chunk_dims"`
	// Radius is the sphere radius in voxels for kind "sphere".
	Radius float64 `yaml:"radius"`
}

func Defaults() Tuning {
	return Tuning{
		FrameRateHz:       30,
		FeedbackTimeoutMs: 100,
		DigestEveryFrames: 0,
		Grid: Grid{
			Dims:   []int{512, 64, 512},
			Origin: []int{-256, -32, -256},
		},
		Cache: Cache{Capacity: 64 * 64 * 64},
		Shading: Shading{
			Buckets:           4,
			ElementsPerBucket: 1 << 26,
		},
		Queues: Queues{
			MaxRequests:     4096,
			MaxGridUploads:  8192,
			MaxBrickUploads: 1024,
		},
		Terrain: Terrain{
			Kind:       "noise",
			Seed:       1337,
			Frequency:  0.04,
			Octaves:    4,
			Gain:       0.5,
			Lacunarity: 2,
			ChunkDims:  []int{32, 32, 32},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.FeedbackTimeoutMs <= 0 && t.FrameRateHz > 0 {
		t.FeedbackTimeoutMs = 1000 / t.FrameRateHz
	}
	if len(t.Grid.Origin) == 0 {
		t.Grid.Origin = []int{0, 0, 0}
	}
	t.Terrain.Kind = strings.ToLower(strings.TrimSpace(t.Terrain.Kind))
	if t.Terrain.Kind == "" {
		t.Terrain.Kind = "noise"
	}
	if t.Terrain.Kind == "sphere" && t.Terrain.Radius <= 0 {
		t.Terrain.Radius = 4
	}
}

func (t Tuning) Validate() error {
	if t.FrameRateHz <= 0 {
		return fmt.Errorf("frame_rate_hz must be > 0")
	}
	if t.DigestEveryFrames < 0 || t.SnapshotEveryFrames < 0 {
		return fmt.Errorf("digest_every_frames and snapshot_every_frames must be >= 0")
	}
	if len(t.Grid.Dims) != 3 || t.Grid.Dims[0] <= 0 || t.Grid.Dims[1] <= 0 || t.Grid.Dims[2] <= 0 {
		return fmt.Errorf("grid.dims must be three positive integers, got %v", t.Grid.Dims)
	}
	if len(t.Grid.Origin) != 3 {
		return fmt.Errorf("grid.origin must have three components, got %v", t.Grid.Origin)
	}
	if t.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be > 0")
	}
	if t.Shading.Buckets < 1 || t.Shading.Buckets > 10 {
		return fmt.Errorf("shading.buckets must be in [1,10], got %d", t.Shading.Buckets)
	}
	if t.Shading.ElementsPerBucket < 512 {
		return fmt.Errorf("shading.elements_per_bucket must be >= 512, got %d", t.Shading.ElementsPerBucket)
	}
	if uint64(t.Shading.Buckets)*uint64(t.Shading.ElementsPerBucket) > 1<<32-1 {
		return fmt.Errorf("shading table of %d x %d elements overflows u32 addressing", t.Shading.Buckets, t.Shading.ElementsPerBucket)
	}
	if t.Queues.MaxRequests <= 0 || t.Queues.MaxGridUploads <= 0 || t.Queues.MaxBrickUploads <= 0 {
		return fmt.Errorf("queue limits must be > 0")
	}
	switch t.Terrain.Kind {
	case "noise":
		if len(t.Terrain.ChunkDims) != 3 || t.Terrain.ChunkDims[0] <= 0 || t.Terrain.ChunkDims[1] <= 0 || t.Terrain.ChunkDims[2] <= 0 {
			return fmt.Errorf("terrain.chunk_dims must be three positive integers, got %v", t.Terrain.ChunkDims)
		}
		if t.Terrain.Octaves <= 0 {
			return fmt.Errorf("terrain.octaves must be > 0")
		}
	case "sphere":
	default:
		return fmt.Errorf("unknown terrain.kind %q", t.Terrain.Kind)
	}
	return nil
}

func (t Tuning) GridDims() mathx.Vec3u {
	return mathx.Vec3u{X: uint32(t.Grid.Dims[0]), Y: uint32(t.Grid.Dims[1]), Z: uint32(t.Grid.Dims[2])}
}

func (t Tuning) ManagerConfig() manager.Config {
	return manager.Config{
		GridDims:          t.GridDims(),
		GridOrigin:        mathx.Vec3i{X: t.Grid.Origin[0], Y: t.Grid.Origin[1], Z: t.Grid.Origin[2]},
		CacheCapacity:     t.Cache.Capacity,
		ShadingBuckets:    uint32(t.Shading.Buckets),
		ElementsPerBucket: uint32(t.Shading.ElementsPerBucket),
		MaxGridUploads:    t.Queues.MaxGridUploads,
		MaxBrickUploads:   t.Queues.MaxBrickUploads,
	}
}

func (t Tuning) RuntimeConfig() runtime.Config {
	return runtime.Config{
		FrameRateHz:     t.FrameRateHz,
		FeedbackTimeout: time.Duration(t.FeedbackTimeoutMs) * time.Millisecond,
		DigestEvery:     t.DigestEveryFrames,
		SnapshotEvery:   t.SnapshotEveryFrames,
		TuningDigest:    t.Digest(),
	}
}

func (t Tuning) TerrainSettings() gen.Settings {
	s := gen.Settings{
		Seed:       t.Terrain.Seed,
		Frequency:  t.Terrain.Frequency,
		Octaves:    t.Terrain.Octaves,
		Gain:       t.Terrain.Gain,
		Lacunarity: t.Terrain.Lacunarity,
	}
	if len(t.Terrain.ChunkDims) == 3 {
		s.ChunkDims = mathx.Vec3u{X: uint32(t.Terrain.ChunkDims[0]), Y: uint32(t.Terrain.ChunkDims[1]), Z: uint32(t.Terrain.ChunkDims[2])}
	}
	return s
}

// Digest is the sha256 of the canonical JSON form of t. Renderers and the
// index use it to tell configurations apart.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
