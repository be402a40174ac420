package main

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"brickstream.ai/internal/protocol"
	"brickstream.ai/internal/stream/tuning"
	"brickstream.ai/internal/stream/voxel"
	"brickstream.ai/internal/terrain/gen"
	"brickstream.ai/internal/terrain/store"
)

// buildSource returns the world the manager streams from. The store is nil
// for kinds that do not keep chunks.
func buildSource(tune tuning.Tuning) (voxel.Source, *store.Store, error) {
	switch tune.Terrain.Kind {
	case "noise":
		st, err := store.New(tune.TerrainSettings())
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case "sphere":
		return gen.Sphere{Center: mgl32.Vec3{0, 0, 0}, Radius: float32(tune.Terrain.Radius)}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown terrain kind %q", tune.Terrain.Kind)
	}
}

// streamParams sizes the renderer buffers from the effective tuning.
func streamParams(tune tuning.Tuning) protocol.StreamParams {
	dims := tune.GridDims()
	return protocol.StreamParams{
		GridDims:           [3]uint32{dims.X, dims.Y, dims.Z},
		CacheCapacity:      tune.Cache.Capacity,
		ShadingElements:    tune.Shading.Buckets * tune.Shading.ElementsPerBucket,
		GridQueueCapacity:  tune.Queues.MaxGridUploads,
		BrickQueueCapacity: tune.Queues.MaxBrickUploads,
		FeedbackCapacity:   tune.Queues.MaxRequests,
		FrameRateHz:        tune.FrameRateHz,
	}
}
