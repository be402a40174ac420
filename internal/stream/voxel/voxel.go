package voxel

import "brickstream.ai/internal/stream/mathx"

// BrickSize is the edge length of a brick in voxels.
const BrickSize = 8

// BrickVolume is the number of voxels in one brick.
const BrickVolume = BrickSize * BrickSize * BrickSize

// Voxel is either empty or a solid colour. The zero value is Empty.
type Voxel struct {
	R, G, B uint8
	Solid   bool
}

var Empty = Voxel{}

func Color(r, g, b uint8) Voxel { return Voxel{R: r, G: g, B: b, Solid: true} }

// RGBA8 packs the colour as r<<24|g<<16|b<<8|0xFF.
func (v Voxel) RGBA8() uint32 {
	return uint32(v.R)<<24 | uint32(v.G)<<16 | uint32(v.B)<<8 | 0xFF
}

// Index returns the brick-local voxel index x + 8y + 64z.
func Index(x, y, z int) int {
	return x + y*BrickSize + z*BrickSize*BrickSize
}

// Source produces raw voxels for a box of world space. Results must be
// deterministic for a given origin; the slice is laid out x-fastest
// (x + y*shape.X + z*shape.X*shape.Y) and may be shared, so callers must not
// modify it.
type Source interface {
	Region(origin mathx.Vec3i, shape mathx.Vec3u) []Voxel
}

// BrickShape is the region shape requested for a single brick.
var BrickShape = mathx.Vec3u{X: BrickSize, Y: BrickSize, Z: BrickSize}
