package gen

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"brickstream.ai/internal/stream/mathx"
)

// Settings configures fractal value noise sampled at brick corners.
type Settings struct {
	Seed       int64
	Frequency  float64
	Octaves    int
	Gain       float64
	Lacunarity float64
	// ChunkDims is the chunk size in bricks.
	ChunkDims mathx.Vec3u
}

// lattice maps a hashed lattice point to [-1, 1).
func lattice(seed int64, x, y, z int) float32 {
	return float32(mathx.Hash3(seed, x, y, z)>>40)/float32(1<<23) - 1
}

func fade(t float32) float32 { return t * t * t * (t*(t*6-15) + 10) }

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

// ValueNoise is smooth 3D value noise in [-1, 1).
func ValueNoise(seed int64, p mgl32.Vec3) float32 {
	fx, fy, fz := math.Floor(float64(p[0])), math.Floor(float64(p[1])), math.Floor(float64(p[2]))
	x0, y0, z0 := int(fx), int(fy), int(fz)
	t := mgl32.Vec3{
		fade(p[0] - float32(fx)),
		fade(p[1] - float32(fy)),
		fade(p[2] - float32(fz)),
	}

	var c [8]float32
	for i := range c {
		c[i] = lattice(seed, x0+i&1, y0+(i>>1)&1, z0+(i>>2)&1)
	}
	return Trilerp(c, t)
}

// Trilerp interpolates corner values ordered x-fastest (index x + 2y + 4z).
func Trilerp(c [8]float32, t mgl32.Vec3) float32 {
	c00 := lerp(c[0], c[1], t[0])
	c10 := lerp(c[2], c[3], t[0])
	c01 := lerp(c[4], c[5], t[0])
	c11 := lerp(c[6], c[7], t[0])
	return lerp(lerp(c00, c10, t[1]), lerp(c01, c11, t[1]), t[2])
}

// FBM sums Octaves layers of value noise at position p (brick units).
func (s Settings) FBM(p mgl32.Vec3) float32 {
	freq := float32(s.Frequency)
	amp := float32(1)
	var sum float32
	for o := 0; o < s.Octaves; o++ {
		sum += amp * ValueNoise(s.Seed+int64(o), p.Mul(freq))
		freq *= float32(s.Lacunarity)
		amp *= float32(s.Gain)
	}
	return sum
}

// ChunkNoise samples the noise lattice for one chunk: one value per brick
// corner, (ChunkDims+1) per axis, laid out x-fastest. The last layer on each
// axis is shared with the neighbouring chunk.
func (s Settings) ChunkNoise(chunk mathx.Vec3i) []float32 {
	d := s.ChunkDims
	nx, ny, nz := int(d.X)+1, int(d.Y)+1, int(d.Z)+1
	base := mathx.Vec3i{X: chunk.X * int(d.X), Y: chunk.Y * int(d.Y), Z: chunk.Z * int(d.Z)}
	out := make([]float32, nx*ny*nz)
	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				out[i] = s.FBM(mgl32.Vec3{float32(base.X + x), float32(base.Y + y), float32(base.Z + z)})
				i++
			}
		}
	}
	return out
}
