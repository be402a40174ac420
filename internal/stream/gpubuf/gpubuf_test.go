package gpubuf

import (
	"context"
	"encoding/binary"
	"testing"

	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/mathx"
)

func u32(b []byte, off int) uint32 { return binary.LittleEndian.Uint32(b[off:]) }

func TestRecordSizes(t *testing.T) {
	if BrickUploadSize != 2128 {
		t.Fatalf("brick upload size got %d want 2128", BrickUploadSize)
	}
	if QueueSize(4096, FeedbackRecordSize) != 16+4096*16 {
		t.Fatalf("feedback queue size got %d", QueueSize(4096, FeedbackRecordSize))
	}
}

func TestGridUploadLayout(t *testing.T) {
	w := EncodeGridUploads([]brickgrid.Upload{
		{Index: 5, Element: brickgrid.NewElement(9, brickgrid.Loaded)},
		{Index: 6, Element: brickgrid.NewElement(0, brickgrid.Empty)},
	})
	if len(w) != 12+2*8 {
		t.Fatalf("write length got %d want 28", len(w))
	}
	if u32(w, 0) != 2 || u32(w, 4) != 0 || u32(w, 8) != 0 {
		t.Fatalf("write header got %d,%d,%d", u32(w, 0), u32(w, 4), u32(w, 8))
	}
	if u32(w, 12) != 5 || u32(w, 16) != 9<<3|4 || u32(w, 20) != 6 || u32(w, 24) != 0 {
		t.Fatalf("records got % x", w[12:])
	}

	q := NewQueue(4, GridUploadSize)
	if err := WriteQueue(q, w, GridUploadSize); err != nil {
		t.Fatalf("WriteQueue: %v", err)
	}
	if u32(q, 0) != 4 || u32(q, 4) != 2 {
		t.Fatalf("queue header got cap %d count %d", u32(q, 0), u32(q, 4))
	}
	ups, err := DecodeGridUploads(q)
	if err != nil || len(ups) != 2 || ups[0].Element.Pointer() != 9 {
		t.Fatalf("decode got %+v, %v", ups, err)
	}
}

func TestWriteQueueRejectsOverflow(t *testing.T) {
	q := NewQueue(1, GridUploadSize)
	w := EncodeGridUploads(make([]brickgrid.Upload, 2))
	if err := WriteQueue(q, w, GridUploadSize); err == nil {
		t.Fatalf("expected capacity error")
	}
	if u32(q, 4) != 0 {
		t.Fatalf("rejected write changed count")
	}
}

func TestBrickUploadLayout(t *testing.T) {
	var bm brickcache.Brickmap
	bm.Bitmask[0] = 0b101
	bm.Bitmask[15] = 1 << 31
	bm.ShadingOffset = 1024
	bm.LODColor = 0x11223344
	w, err := EncodeBrickUploads([]brickcache.Upload{{Slot: 3, Brickmap: bm, Colors: []uint32{0xA, 0xB, 0xC}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(w) != 12+2128 {
		t.Fatalf("write length got %d want %d", len(w), 12+2128)
	}
	r := w[12:]
	if u32(r, 0) != 3 || u32(r, 4) != 0b101 || u32(r, 4+60) != 1<<31 {
		t.Fatalf("slot/bitmask layout wrong")
	}
	if u32(r, 68) != 1024 || u32(r, 72) != 0x11223344 || u32(r, 76) != 3 {
		t.Fatalf("offset %d lod %#x count %d", u32(r, 68), u32(r, 72), u32(r, 76))
	}
	if u32(r, 80) != 0xA || u32(r, 88) != 0xC || u32(r, 92) != 0 {
		t.Fatalf("colours not packed in order")
	}

	q := NewQueue(2, BrickUploadSize)
	if err := WriteQueue(q, w, BrickUploadSize); err != nil {
		t.Fatalf("WriteQueue: %v", err)
	}
	ups, err := DecodeBrickUploads(q)
	if err != nil || len(ups) != 1 || ups[0].Brickmap != bm || len(ups[0].Colors) != 3 {
		t.Fatalf("decode got %+v, %v", ups, err)
	}
}

func TestFeedbackClampsToCapacity(t *testing.T) {
	reqs := []mathx.Vec3u{{X: 1, Y: 2, Z: 3}, {X: 4}, {Z: 9}}
	buf := EncodeFeedback(2, 5, reqs)
	if len(buf) != 16+2*16 {
		t.Fatalf("buffer length got %d", len(buf))
	}
	got, count, err := DecodeFeedback(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if count != 5 || len(got) != 2 {
		t.Fatalf("count %d records %d want 5/2", count, len(got))
	}
	if got[0] != reqs[0] || got[1] != reqs[1] {
		t.Fatalf("records got %+v", got)
	}
}

func TestWorldStateLayout(t *testing.T) {
	b := EncodeWorldState(mathx.Vec3u{X: 512, Y: 64, Z: 256})
	if len(b) != 16 || u32(b, 0) != 512 || u32(b, 4) != 64 || u32(b, 8) != 256 || u32(b, 12) != 0 {
		t.Fatalf("world state got % x", b)
	}
	d, err := DecodeWorldState(b)
	if err != nil || d.Z != 256 {
		t.Fatalf("decode got %+v, %v", d, err)
	}
}

func TestMirrorAppliesFrame(t *testing.T) {
	m := NewMirror(MirrorConfig{
		GridDims:           mathx.Vec3u{X: 2, Y: 2, Z: 2},
		CacheCapacity:      2,
		ShadingElements:    16,
		GridQueueCapacity:  8,
		BrickQueueCapacity: 2,
		FeedbackCapacity:   2,
	})
	if e, _ := m.Element(mathx.Vec3u{}); e.Flag() != brickgrid.Unloaded {
		t.Fatalf("initial flag got %s", e.Flag())
	}

	var bm brickcache.Brickmap
	bm.Bitmask[0] = 0b11
	bm.ShadingOffset = 4
	f, err := BuildFrame(1,
		[]brickgrid.Upload{{Index: 7, Element: brickgrid.NewElement(1, brickgrid.Loaded)}},
		[]brickcache.Upload{{Slot: 1, Brickmap: bm, Colors: []uint32{0xFF, 0xEE}}})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	if err := m.Upload(context.Background(), f); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	e, _ := m.Element(mathx.Vec3u{X: 1, Y: 1, Z: 1})
	if !e.IsLoaded() || e.Pointer() != 1 {
		t.Fatalf("grid word got %s", e)
	}
	got, colors, ok := m.Brick(1)
	if !ok || got.ShadingOffset != 4 || len(colors) != 2 || colors[1] != 0xEE {
		t.Fatalf("brick got %+v %v %v", got, colors, ok)
	}
}

func TestMirrorFeedbackCounter(t *testing.T) {
	m := NewMirror(MirrorConfig{GridDims: mathx.Vec3u{X: 1, Y: 1, Z: 1}, FeedbackCapacity: 2})
	ctx := context.Background()
	if !m.Request(mathx.Vec3u{X: 1}) || !m.Request(mathx.Vec3u{X: 2}) {
		t.Fatalf("requests within capacity were dropped")
	}
	if m.Request(mathx.Vec3u{X: 3}) {
		t.Fatalf("request beyond capacity was stored")
	}
	buf, _ := m.ReadFeedback(ctx)
	reqs, count, _ := DecodeFeedback(buf)
	if count != 3 || len(reqs) != 2 {
		t.Fatalf("count %d records %d want 3/2", count, len(reqs))
	}
	if err := m.ResetFeedback(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	buf, _ = m.ReadFeedback(ctx)
	if _, count, _ := DecodeFeedback(buf); count != 0 {
		t.Fatalf("count after reset got %d", count)
	}
}
