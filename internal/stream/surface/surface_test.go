package surface

import (
	"testing"

	"brickstream.ai/internal/stream/voxel"
)

func filled(v voxel.Voxel) []voxel.Voxel {
	out := make([]voxel.Voxel, voxel.BrickVolume)
	for i := range out {
		out[i] = v
	}
	return out
}

func allSolid() [6][]voxel.Voxel {
	var n [6][]voxel.Voxel
	for i := range n {
		n[i] = filled(voxel.Color(1, 1, 1))
	}
	return n
}

func TestFullySurroundedBrickIsEmpty(t *testing.T) {
	b := Cull(filled(voxel.Color(9, 9, 9)), allSolid())
	if !b.IsEmpty() || b.Bitmask.Count() != 0 {
		t.Fatalf("got %d colours %d bits want empty", len(b.Colors), b.Bitmask.Count())
	}
}

func TestIsolatedVoxel(t *testing.T) {
	center := make([]voxel.Voxel, voxel.BrickVolume)
	center[voxel.Index(3, 4, 5)] = voxel.Color(0x10, 0x20, 0x30)
	b := Cull(center, allSolid())
	if len(b.Colors) != 1 || b.Colors[0] != 0x102030FF {
		t.Fatalf("colours got %#v", b.Colors)
	}
	if b.Bitmask.Count() != 1 || !b.Bitmask.Test(voxel.Index(3, 4, 5)) {
		t.Fatalf("bitmask got %v", b.Bitmask)
	}
}

func TestSolidBrickKeepsOnlyExposedFace(t *testing.T) {
	n := allSolid()
	n[PosY] = nil
	b := Cull(filled(voxel.Color(5, 5, 5)), n)
	if len(b.Colors) != 64 {
		t.Fatalf("colours got %d want 64", len(b.Colors))
	}
	for z := 0; z < 8; z++ {
		for x := 0; x < 8; x++ {
			if !b.Bitmask.Test(voxel.Index(x, 7, z)) {
				t.Fatalf("top voxel (%d,7,%d) missing", x, z)
			}
		}
	}
	if b.Bitmask.Test(voxel.Index(0, 6, 0)) {
		t.Fatalf("interior voxel kept")
	}
}

func TestNeighbourLookupAcrossFaces(t *testing.T) {
	center := filled(voxel.Color(5, 5, 5))
	n := allSolid()
	// Punch one hole in the -Z neighbour facing voxel (2,3,0).
	n[NegZ][voxel.Index(2, 3, 7)] = voxel.Empty
	b := Cull(center, n)
	if len(b.Colors) != 1 || !b.Bitmask.Test(voxel.Index(2, 3, 0)) {
		t.Fatalf("got %d colours, bit set %v", len(b.Colors), b.Bitmask.Test(voxel.Index(2, 3, 0)))
	}
}

func TestSphereBrickNonEmpty(t *testing.T) {
	center := make([]voxel.Voxel, voxel.BrickVolume)
	solid := 0
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				dx, dy, dz := float64(x)-3.5, float64(y)-3.5, float64(z)-3.5
				if dx*dx+dy*dy+dz*dz <= 16 {
					center[voxel.Index(x, y, z)] = voxel.Color(200, 100, 50)
					solid++
				}
			}
		}
	}
	b := Cull(center, [6][]voxel.Voxel{})
	if b.IsEmpty() {
		t.Fatalf("sphere brick culled to nothing")
	}
	if len(b.Colors) >= solid {
		t.Fatalf("interior not culled: %d of %d kept", len(b.Colors), solid)
	}
	if len(b.Colors) != b.Bitmask.Count() {
		t.Fatalf("colours %d bits %d", len(b.Colors), b.Bitmask.Count())
	}
}
