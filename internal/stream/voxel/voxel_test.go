package voxel

import "testing"

func TestRGBA8(t *testing.T) {
	if got := Color(0x12, 0x34, 0x56).RGBA8(); got != 0x123456FF {
		t.Fatalf("got %#x want 0x123456ff", got)
	}
	if Empty.Solid {
		t.Fatalf("Empty must not be solid")
	}
	if Color(0, 0, 0) == Empty {
		t.Fatalf("black voxel must differ from Empty")
	}
}

func TestBitmaskLayout(t *testing.T) {
	var m Bitmask
	m.Set(Index(7, 7, 7))
	m.Set(Index(1, 0, 0))
	m.Set(Index(0, 4, 0))
	if m[15] != 1<<31 {
		t.Fatalf("voxel (7,7,7) should be the top bit of word 15, got %#x", m[15])
	}
	if m[0] != 1<<1 {
		t.Fatalf("word 0 got %#x", m[0])
	}
	if m[1] != 1 {
		t.Fatalf("voxel (0,4,0) should be bit 0 of word 1, got %#x", m[1])
	}
	if !m.Test(Index(1, 0, 0)) || m.Test(Index(2, 0, 0)) {
		t.Fatalf("Test mismatch")
	}
	if m.Count() != 3 {
		t.Fatalf("count got %d want 3", m.Count())
	}
}

func TestLODColor(t *testing.T) {
	b := Brick{Colors: []uint32{0x000000FF, 0x204060FF}}
	if got := b.LODColor(); got != 0x102030FF {
		t.Fatalf("got %#x want 0x102030ff", got)
	}
	if (Brick{}).LODColor() != 0 {
		t.Fatalf("empty brick lod colour should be 0")
	}
}
