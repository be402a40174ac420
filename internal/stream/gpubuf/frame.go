package gpubuf

import (
	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/brickgrid"
)

// Frame carries one frame's host-side queue writes. Both writes start at
// CountOffset of their queue.
type Frame struct {
	Number     uint64
	GridQueue  []byte
	BrickQueue []byte
}

func BuildFrame(number uint64, grid []brickgrid.Upload, bricks []brickcache.Upload) (Frame, error) {
	bq, err := EncodeBrickUploads(bricks)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Number:     number,
		GridQueue:  EncodeGridUploads(grid),
		BrickQueue: bq,
	}, nil
}

func (f Frame) GridCount() uint32 {
	if len(f.GridQueue) < 4 {
		return 0
	}
	return le.Uint32(f.GridQueue)
}

func (f Frame) BrickCount() uint32 {
	if len(f.BrickQueue) < 4 {
		return 0
	}
	return le.Uint32(f.BrickQueue)
}

func (f Frame) Empty() bool { return f.GridCount() == 0 && f.BrickCount() == 0 }
