package gpubuf

import (
	"fmt"

	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/mathx"
)

// EncodeGrid lays out grid words in flat-index order.
func EncodeGrid(words []uint32) []byte {
	b := make([]byte, len(words)*4)
	for i, w := range words {
		le.PutUint32(b[i*4:], w)
	}
	return b
}

func DecodeGrid(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = le.Uint32(b[i*4:])
	}
	return out
}

// EncodeGridUploads builds the host-side write for the grid upload queue.
func EncodeGridUploads(ups []brickgrid.Upload) []byte {
	b := newWrite(len(ups), GridUploadSize)
	for i, u := range ups {
		off := writeHeader + i*GridUploadSize
		le.PutUint32(b[off:], u.Index)
		le.PutUint32(b[off+4:], uint32(u.Element))
	}
	return b
}

// DecodeGridUploads reads the records of a full grid upload queue image.
func DecodeGridUploads(queue []byte) ([]brickgrid.Upload, error) {
	recs, count, err := queueRecords(queue, GridUploadSize)
	if err != nil {
		return nil, err
	}
	out := make([]brickgrid.Upload, count)
	for i := range out {
		off := i * GridUploadSize
		out[i] = brickgrid.Upload{
			Index:   le.Uint32(recs[off:]),
			Element: brickgrid.Element(le.Uint32(recs[off+4:])),
		}
	}
	return out, nil
}

func PutBrickmap(b []byte, bm brickcache.Brickmap) {
	for i, w := range bm.Bitmask {
		le.PutUint32(b[i*4:], w)
	}
	le.PutUint32(b[64:], bm.ShadingOffset)
	le.PutUint32(b[68:], bm.LODColor)
}

func ReadBrickmap(b []byte) brickcache.Brickmap {
	var bm brickcache.Brickmap
	for i := range bm.Bitmask {
		bm.Bitmask[i] = le.Uint32(b[i*4:])
	}
	bm.ShadingOffset = le.Uint32(b[64:])
	bm.LODColor = le.Uint32(b[68:])
	return bm
}

// EncodeBrickUploads builds the host-side write for the brickmap upload
// queue. Colour arrays are padded to 512 words.
func EncodeBrickUploads(ups []brickcache.Upload) ([]byte, error) {
	b := newWrite(len(ups), BrickUploadSize)
	for i, u := range ups {
		if len(u.Colors) > MaxColors {
			return nil, fmt.Errorf("gpubuf: slot %d has %d colours", u.Slot, len(u.Colors))
		}
		off := writeHeader + i*BrickUploadSize
		le.PutUint32(b[off:], u.Slot)
		PutBrickmap(b[off+4:], u.Brickmap)
		le.PutUint32(b[off+4+BrickmapSize:], uint32(len(u.Colors)))
		colors := b[off+8+BrickmapSize:]
		for j, c := range u.Colors {
			le.PutUint32(colors[j*4:], c)
		}
	}
	return b, nil
}

// DecodeBrickUploads reads the records of a full brickmap upload queue image.
func DecodeBrickUploads(queue []byte) ([]brickcache.Upload, error) {
	recs, count, err := queueRecords(queue, BrickUploadSize)
	if err != nil {
		return nil, err
	}
	out := make([]brickcache.Upload, count)
	for i := range out {
		r := recs[i*BrickUploadSize:]
		n := le.Uint32(r[4+BrickmapSize:])
		if n > MaxColors {
			return nil, fmt.Errorf("gpubuf: record %d claims %d colours", i, n)
		}
		colors := make([]uint32, n)
		for j := range colors {
			colors[j] = le.Uint32(r[8+BrickmapSize+j*4:])
		}
		out[i] = brickcache.Upload{
			Slot:     le.Uint32(r),
			Brickmap: ReadBrickmap(r[4:]),
			Colors:   colors,
		}
	}
	return out, nil
}

// EncodeFeedback builds a full feedback buffer image. count is the raw
// counter value, which may exceed both capacity and len(reqs).
func EncodeFeedback(capacity int, count uint32, reqs []mathx.Vec3u) []byte {
	b := NewQueue(capacity, FeedbackRecordSize)
	le.PutUint32(b[CountOffset:], count)
	for i, p := range reqs {
		if i >= capacity {
			break
		}
		putFeedback(b[HeaderSize+i*FeedbackRecordSize:], p)
	}
	return b
}

func putFeedback(b []byte, p mathx.Vec3u) {
	le.PutUint32(b[0:], p.X)
	le.PutUint32(b[4:], p.Y)
	le.PutUint32(b[8:], p.Z)
	le.PutUint32(b[12:], 0)
}

// DecodeFeedback returns the requests in a feedback buffer image along with
// the raw counter. Records past capacity were never written and are ignored.
func DecodeFeedback(buf []byte) ([]mathx.Vec3u, uint32, error) {
	h, err := ReadHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	recs, count, err := queueRecords(buf, FeedbackRecordSize)
	if err != nil {
		return nil, h.Count, err
	}
	out := make([]mathx.Vec3u, count)
	for i := range out {
		r := recs[i*FeedbackRecordSize:]
		out[i] = mathx.Vec3u{X: le.Uint32(r[0:]), Y: le.Uint32(r[4:]), Z: le.Uint32(r[8:])}
	}
	return out, h.Count, nil
}

// FeedbackReset is the host write that clears the feedback counter.
func FeedbackReset() []byte { return make([]byte, 4) }

func EncodeWorldState(dims mathx.Vec3u) []byte {
	b := make([]byte, WorldStateSize)
	le.PutUint32(b[0:], dims.X)
	le.PutUint32(b[4:], dims.Y)
	le.PutUint32(b[8:], dims.Z)
	return b
}

func DecodeWorldState(b []byte) (mathx.Vec3u, error) {
	if len(b) < WorldStateSize {
		return mathx.Vec3u{}, fmt.Errorf("%w: world state is %d bytes", ErrShortBuffer, len(b))
	}
	return mathx.Vec3u{X: le.Uint32(b[0:]), Y: le.Uint32(b[4:]), Z: le.Uint32(b[8:])}, nil
}
