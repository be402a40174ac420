package mathx

import "testing"

func TestFloorDivAndMod(t *testing.T) {
	cases := []struct {
		a, b, q, m int
	}{
		{7, 8, 0, 7},
		{8, 8, 1, 0},
		{-1, 8, -1, 7},
		{-8, 8, -1, 0},
		{-9, 8, -2, 7},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d) got %d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d) got %d want %d", c.a, c.b, got, c.m)
		}
	}
}

func TestSplitBrickNegative(t *testing.T) {
	chunk, local := SplitBrick(Vec3i{X: -1, Y: 0, Z: 0}, Vec3u{X: 8, Y: 8, Z: 8})
	if chunk != (Vec3i{X: -1, Y: 0, Z: 0}) {
		t.Fatalf("chunk got %+v want (-1,0,0)", chunk)
	}
	if local != (Vec3u{X: 7, Y: 0, Z: 0}) {
		t.Fatalf("local got %+v want (7,0,0)", local)
	}

	chunk, local = SplitBrick(Vec3i{X: 17, Y: -16, Z: -17}, Vec3u{X: 8, Y: 16, Z: 8})
	if chunk != (Vec3i{X: 2, Y: -1, Z: -3}) {
		t.Fatalf("chunk got %+v", chunk)
	}
	if local != (Vec3u{X: 1, Y: 0, Z: 7}) {
		t.Fatalf("local got %+v", local)
	}
}

func TestFlatIndexRoundTrip(t *testing.T) {
	dims := Vec3u{X: 5, Y: 3, Z: 4}
	seen := make(map[uint32]bool)
	for z := uint32(0); z < dims.Z; z++ {
		for y := uint32(0); y < dims.Y; y++ {
			for x := uint32(0); x < dims.X; x++ {
				p := Vec3u{X: x, Y: y, Z: z}
				idx := FlatIndex(p, dims)
				if seen[idx] {
					t.Fatalf("duplicate index %d for %+v", idx, p)
				}
				seen[idx] = true
				if back := FromFlatIndex(idx, dims); back != p {
					t.Fatalf("round trip got %+v want %+v", back, p)
				}
			}
		}
	}
	if got := FlatIndex(Vec3u{X: 1, Y: 2, Z: 3}, dims); got != 1+2*5+3*15 {
		t.Fatalf("row-major index got %d", got)
	}
}

func TestHash3Deterministic(t *testing.T) {
	if Hash3(7, -1, 2, 3) != Hash3(7, -1, 2, 3) {
		t.Fatalf("hash not deterministic")
	}
	if Hash3(7, 1, 2, 3) == Hash3(8, 1, 2, 3) {
		t.Fatalf("seed ignored")
	}
}
