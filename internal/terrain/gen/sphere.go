package gen

import (
	"github.com/go-gl/mathgl/mgl32"

	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/voxel"
)

// Sphere is a solid ball of voxels, handy for demos and tests.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

func (s Sphere) At(x, y, z int) voxel.Voxel {
	p := mgl32.Vec3{float32(x), float32(y), float32(z)}
	d := p.Sub(s.Center)
	if d.Len() > s.Radius {
		return voxel.Empty
	}
	n := d.Mul(1 / s.Radius)
	shade := func(v float32) uint8 { return uint8(mgl32.Clamp((v+1)*127.5, 0, 255)) }
	return voxel.Color(shade(n[0]), shade(n[1]), shade(n[2]))
}

func (s Sphere) Region(origin mathx.Vec3i, shape mathx.Vec3u) []voxel.Voxel {
	out := make([]voxel.Voxel, shape.Volume())
	i := 0
	for z := 0; z < int(shape.Z); z++ {
		for y := 0; y < int(shape.Y); y++ {
			for x := 0; x < int(shape.X); x++ {
				out[i] = s.At(origin.X+x, origin.Y+y, origin.Z+z)
				i++
			}
		}
	}
	return out
}
