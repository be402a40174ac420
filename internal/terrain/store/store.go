// Package store serves generated terrain to the streaming manager. Chunks
// and their bricks are generated on first access and kept.
package store

import (
	"fmt"
	"sort"
	"sync"

	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/voxel"
	"brickstream.ai/internal/terrain/gen"
)

type chunk struct {
	noise  []float32
	bricks [][]voxel.Voxel
}

// Store implements voxel.Source over noise terrain. It is safe for
// concurrent use.
type Store struct {
	settings gen.Settings

	mu     sync.Mutex
	chunks map[mathx.Vec3i]*chunk
	bricks int
}

func New(s gen.Settings) (*Store, error) {
	if s.ChunkDims.Volume() <= 0 {
		return nil, fmt.Errorf("store: chunk dims must be positive, got %+v", s.ChunkDims)
	}
	if s.Octaves <= 0 {
		return nil, fmt.Errorf("store: octaves must be positive, got %d", s.Octaves)
	}
	return &Store{settings: s, chunks: map[mathx.Vec3i]*chunk{}}, nil
}

// Brick returns the voxels of the brick at brick coordinate p. The slice is
// shared; callers must not modify it.
func (s *Store) Brick(p mathx.Vec3i) []voxel.Voxel {
	key, local := mathx.SplitBrick(p, s.settings.ChunkDims)

	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chunks[key]
	if !ok {
		ch = &chunk{
			noise:  s.settings.ChunkNoise(key),
			bricks: make([][]voxel.Voxel, s.settings.ChunkDims.Volume()),
		}
		s.chunks[key] = ch
	}
	idx := mathx.FlatIndex(local, s.settings.ChunkDims)
	b := ch.bricks[idx]
	if b == nil {
		b = gen.FillBrick(gen.BrickCorners(ch.noise, s.settings.ChunkDims, local))
		ch.bricks[idx] = b
		s.bricks++
	}
	return b
}

// Region returns world voxels for any box. Brick-aligned single-brick
// requests return the cached brick directly.
func (s *Store) Region(origin mathx.Vec3i, shape mathx.Vec3u) []voxel.Voxel {
	if shape == voxel.BrickShape &&
		mathx.Mod(origin.X, voxel.BrickSize) == 0 &&
		mathx.Mod(origin.Y, voxel.BrickSize) == 0 &&
		mathx.Mod(origin.Z, voxel.BrickSize) == 0 {
		return s.Brick(mathx.Vec3i{
			X: mathx.FloorDiv(origin.X, voxel.BrickSize),
			Y: mathx.FloorDiv(origin.Y, voxel.BrickSize),
			Z: mathx.FloorDiv(origin.Z, voxel.BrickSize),
		})
	}

	out := make([]voxel.Voxel, shape.Volume())
	i := 0
	for z := 0; z < int(shape.Z); z++ {
		for y := 0; y < int(shape.Y); y++ {
			for x := 0; x < int(shape.X); x++ {
				wx, wy, wz := origin.X+x, origin.Y+y, origin.Z+z
				b := s.Brick(mathx.Vec3i{
					X: mathx.FloorDiv(wx, voxel.BrickSize),
					Y: mathx.FloorDiv(wy, voxel.BrickSize),
					Z: mathx.FloorDiv(wz, voxel.BrickSize),
				})
				out[i] = b[voxel.Index(mathx.Mod(wx, voxel.BrickSize), mathx.Mod(wy, voxel.BrickSize), mathx.Mod(wz, voxel.BrickSize))]
				i++
			}
		}
	}
	return out
}

type Stats struct {
	Chunks int `json:"chunks"`
	Bricks int `json:"bricks"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Chunks: len(s.chunks), Bricks: s.bricks}
}

// LoadedChunkKeys lists generated chunks in x, y, z order.
func (s *Store) LoadedChunkKeys() []mathx.Vec3i {
	s.mu.Lock()
	keys := make([]mathx.Vec3i, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].Z < keys[j].Z
	})
	return keys
}
