package mathx

// Vec3i is a signed integer coordinate (world voxels, world bricks or chunks).
type Vec3i struct {
	X, Y, Z int
}

// Vec3u is an unsigned coordinate or extent, used for grid positions and dimensions.
type Vec3u struct {
	X, Y, Z uint32
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) Scale(s int) Vec3i { return Vec3i{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

func (v Vec3u) Signed() Vec3i { return Vec3i{X: int(v.X), Y: int(v.Y), Z: int(v.Z)} }

// Volume is the number of cells in a box of these dimensions.
func (v Vec3u) Volume() int { return int(v.X) * int(v.Y) * int(v.Z) }

func (v Vec3u) Contains(p Vec3u) bool {
	return p.X < v.X && p.Y < v.Y && p.Z < v.Z
}

// FlatIndex maps p to its row-major index: x + y*dimX + z*dimX*dimY.
func FlatIndex(p, dims Vec3u) uint32 {
	return p.X + p.Y*dims.X + p.Z*dims.X*dims.Y
}

// FromFlatIndex is the inverse of FlatIndex.
func FromFlatIndex(idx uint32, dims Vec3u) Vec3u {
	plane := dims.X * dims.Y
	z := idx / plane
	rem := idx % plane
	return Vec3u{X: rem % dims.X, Y: rem / dims.X, Z: z}
}

// SplitBrick maps a world brick coordinate to the chunk that owns it and the
// brick's offset inside that chunk. Negative coordinates floor toward -inf, so
// brick -1 lands in chunk -1 at offset dims-1.
func SplitBrick(brick Vec3i, chunkDims Vec3u) (chunk Vec3i, local Vec3u) {
	dx, dy, dz := int(chunkDims.X), int(chunkDims.Y), int(chunkDims.Z)
	chunk = Vec3i{
		X: FloorDiv(brick.X, dx),
		Y: FloorDiv(brick.Y, dy),
		Z: FloorDiv(brick.Z, dz),
	}
	local = Vec3u{
		X: uint32(Mod(brick.X, dx)),
		Y: uint32(Mod(brick.Y, dy)),
		Z: uint32(Mod(brick.Z, dz)),
	}
	return chunk, local
}
