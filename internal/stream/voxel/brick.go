package voxel

import "math/bits"

// Bitmask holds one occupancy bit per brick voxel; bit i lives in word i/32.
type Bitmask [16]uint32

func (m *Bitmask) Set(i int)      { m[i>>5] |= 1 << (uint(i) & 31) }
func (m Bitmask) Test(i int) bool { return m[i>>5]&(1<<(uint(i)&31)) != 0 }

func (m Bitmask) Count() int {
	n := 0
	for _, w := range m {
		n += bits.OnesCount32(w)
	}
	return n
}

// Brick is a culled brick: occupancy bits plus one packed colour per set bit,
// in bit order.
type Brick struct {
	Bitmask Bitmask
	Colors  []uint32
}

func (b Brick) IsEmpty() bool { return len(b.Colors) == 0 }

// LODColor averages the surface colours channel by channel; 0 for an empty brick.
func (b Brick) LODColor() uint32 {
	if len(b.Colors) == 0 {
		return 0
	}
	var r, g, bl, a uint64
	for _, c := range b.Colors {
		r += uint64(c >> 24)
		g += uint64(c >> 16 & 0xFF)
		bl += uint64(c >> 8 & 0xFF)
		a += uint64(c & 0xFF)
	}
	n := uint64(len(b.Colors))
	return uint32(r/n)<<24 | uint32(g/n)<<16 | uint32(bl/n)<<8 | uint32(a/n)
}
