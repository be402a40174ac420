package gen

import (
	"github.com/go-gl/mathgl/mgl32"

	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/voxel"
)

// BrickCorners picks the 8 lattice values around the brick at local position
// local from a chunk's noise lattice.
func BrickCorners(noise []float32, chunkDims, local mathx.Vec3u) [8]float32 {
	dims := mathx.Vec3u{X: chunkDims.X + 1, Y: chunkDims.Y + 1, Z: chunkDims.Z + 1}
	var c [8]float32
	for i := range c {
		p := mathx.Vec3u{
			X: local.X + uint32(i&1),
			Y: local.Y + uint32(i>>1&1),
			Z: local.Z + uint32(i>>2&1),
		}
		c[i] = noise[mathx.FlatIndex(p, dims)]
	}
	return c
}

// FillBrick interpolates the corner values across the brick. A voxel is
// solid where the value is positive and is coloured by its position inside
// the brick.
func FillBrick(c [8]float32) []voxel.Voxel {
	out := make([]voxel.Voxel, voxel.BrickVolume)
	negative := 0
	for _, v := range c {
		if v < 0 {
			negative++
		}
	}
	if negative == len(c) {
		return out
	}

	const span = float32(voxel.BrickSize - 1)
	i := 0
	for z := 0; z < voxel.BrickSize; z++ {
		for y := 0; y < voxel.BrickSize; y++ {
			for x := 0; x < voxel.BrickSize; x++ {
				t := mgl32.Vec3{float32(x), float32(y), float32(z)}.Mul(1 / span)
				if Trilerp(c, t) > 0 {
					out[i] = voxel.Color(uint8((x+1)*32-1), uint8((y+1)*32-1), uint8((z+1)*32-1))
				}
				i++
			}
		}
	}
	return out
}
