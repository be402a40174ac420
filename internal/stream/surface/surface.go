// Package surface reduces a raw brick to the voxels a ray can hit.
package surface

import (
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/voxel"
)

// Neighbour directions, in the order Cull expects them.
const (
	PosX = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

// Offsets holds the brick offset of each neighbour direction.
var Offsets = [6]mathx.Vec3i{
	PosX: {X: 1},
	NegX: {X: -1},
	PosY: {Y: 1},
	NegY: {Y: -1},
	PosZ: {Z: 1},
	NegZ: {Z: -1},
}

const last = voxel.BrickSize - 1

// Cull keeps the solid voxels of center that have at least one empty face
// neighbour. Voxels on the brick boundary look across into the matching
// neighbour brick; a nil neighbour counts as empty space.
func Cull(center []voxel.Voxel, neighbours [6][]voxel.Voxel) voxel.Brick {
	var out voxel.Brick
	if len(center) < voxel.BrickVolume {
		return out
	}
	for z := 0; z < voxel.BrickSize; z++ {
		for y := 0; y < voxel.BrickSize; y++ {
			for x := 0; x < voxel.BrickSize; x++ {
				idx := voxel.Index(x, y, z)
				v := center[idx]
				if !v.Solid {
					continue
				}
				if !exposed(center, &neighbours, x, y, z) {
					continue
				}
				out.Bitmask.Set(idx)
				out.Colors = append(out.Colors, v.RGBA8())
			}
		}
	}
	return out
}

func exposed(c []voxel.Voxel, n *[6][]voxel.Voxel, x, y, z int) bool {
	idx := voxel.Index(x, y, z)
	const row, slab = voxel.BrickSize, voxel.BrickSize * voxel.BrickSize
	return empty(c, n, PosX, x == last, idx+1, idx-last) ||
		empty(c, n, NegX, x == 0, idx-1, idx+last) ||
		empty(c, n, PosY, y == last, idx+row, idx-last*row) ||
		empty(c, n, NegY, y == 0, idx-row, idx+last*row) ||
		empty(c, n, PosZ, z == last, idx+slab, idx-last*slab) ||
		empty(c, n, NegZ, z == 0, idx-slab, idx+last*slab)
}

// empty reports whether the face neighbour is empty: inner is its index in
// the centre brick, across its index in the neighbour brick when edge is set.
func empty(c []voxel.Voxel, n *[6][]voxel.Voxel, dir int, edge bool, inner, across int) bool {
	if !edge {
		return !c[inner].Solid
	}
	nb := n[dir]
	if len(nb) < voxel.BrickVolume {
		return true
	}
	return !nb[across].Solid
}
