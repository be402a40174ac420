package gpubuf

import (
	"context"
	"fmt"
	"sync"

	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/mathx"
)

type MirrorConfig struct {
	GridDims           mathx.Vec3u
	CacheCapacity      int
	ShadingElements    int
	GridQueueCapacity  int
	BrickQueueCapacity int
	FeedbackCapacity   int
}

// Mirror holds every renderer buffer in host memory and applies uploads the
// way the unpack pass does. Request stands in for the raycaster appending to
// the feedback buffer. It is safe for concurrent use.
type Mirror struct {
	mu sync.Mutex

	cfg        MirrorConfig
	worldState []byte
	grid       []byte
	cache      []byte
	shading    []byte
	gridQueue  []byte
	brickQueue []byte
	feedback   []byte
}

func NewMirror(cfg MirrorConfig) *Mirror {
	grid := make([]uint32, cfg.GridDims.Volume())
	unloaded := uint32(brickgrid.NewElement(0, brickgrid.Unloaded))
	for i := range grid {
		grid[i] = unloaded
	}
	return &Mirror{
		cfg:        cfg,
		worldState: EncodeWorldState(cfg.GridDims),
		grid:       EncodeGrid(grid),
		cache:      make([]byte, cfg.CacheCapacity*BrickmapSize),
		shading:    make([]byte, cfg.ShadingElements*4),
		gridQueue:  NewQueue(cfg.GridQueueCapacity, GridUploadSize),
		brickQueue: NewQueue(cfg.BrickQueueCapacity, BrickUploadSize),
		feedback:   NewQueue(cfg.FeedbackCapacity, FeedbackRecordSize),
	}
}

// Upload writes both queues and runs the unpack pass over them.
func (m *Mirror) Upload(ctx context.Context, f Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := WriteQueue(m.gridQueue, f.GridQueue, GridUploadSize); err != nil {
		return fmt.Errorf("grid queue: %w", err)
	}
	if err := WriteQueue(m.brickQueue, f.BrickQueue, BrickUploadSize); err != nil {
		return fmt.Errorf("brick queue: %w", err)
	}
	return m.unpackLocked()
}

func (m *Mirror) unpackLocked() error {
	gridUps, err := DecodeGridUploads(m.gridQueue)
	if err != nil {
		return err
	}
	for _, u := range gridUps {
		off := int(u.Index) * 4
		if off+4 > len(m.grid) {
			return fmt.Errorf("gpubuf: grid upload index %d out of range", u.Index)
		}
		le.PutUint32(m.grid[off:], uint32(u.Element))
	}

	brickUps, err := DecodeBrickUploads(m.brickQueue)
	if err != nil {
		return err
	}
	for _, u := range brickUps {
		off := int(u.Slot) * BrickmapSize
		if off+BrickmapSize > len(m.cache) {
			return fmt.Errorf("gpubuf: brick upload slot %d out of range", u.Slot)
		}
		PutBrickmap(m.cache[off:], u.Brickmap)
		base := int(u.Brickmap.ShadingOffset) * 4
		if base+len(u.Colors)*4 > len(m.shading) {
			return fmt.Errorf("gpubuf: slot %d colours overrun the shading table", u.Slot)
		}
		for i, c := range u.Colors {
			le.PutUint32(m.shading[base+i*4:], c)
		}
	}

	le.PutUint32(m.gridQueue[CountOffset:], 0)
	le.PutUint32(m.brickQueue[CountOffset:], 0)
	return nil
}

// Request appends a brick request as the raycaster would: the counter always
// advances, the record is only stored while there is room.
func (m *Mirror) Request(pos mathx.Vec3u) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := le.Uint32(m.feedback[CountOffset:])
	le.PutUint32(m.feedback[CountOffset:], n+1)
	if int(n) >= m.cfg.FeedbackCapacity {
		return false
	}
	putFeedback(m.feedback[HeaderSize+int(n)*FeedbackRecordSize:], pos)
	return true
}

// ReadFeedback copies out the feedback buffer.
func (m *Mirror) ReadFeedback(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.feedback))
	copy(out, m.feedback)
	return out, nil
}

func (m *Mirror) ResetFeedback(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.feedback[CountOffset:], FeedbackReset())
	return nil
}

func (m *Mirror) WorldState() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.worldState...)
}

// Element returns the grid word the renderer currently sees for pos.
func (m *Mirror) Element(pos mathx.Vec3u) (brickgrid.Element, bool) {
	if !m.cfg.GridDims.Contains(pos) {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := mathx.FlatIndex(pos, m.cfg.GridDims)
	return brickgrid.Element(le.Uint32(m.grid[idx*4:])), true
}

func (m *Mirror) GridWords() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return DecodeGrid(m.grid)
}

// Brick returns the record in a cache slot and the colours it references in
// the shading table.
func (m *Mirror) Brick(slot uint32) (brickcache.Brickmap, []uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int(slot) * BrickmapSize
	if off+BrickmapSize > len(m.cache) {
		return brickcache.Brickmap{}, nil, false
	}
	bm := ReadBrickmap(m.cache[off:])
	n := bm.Bitmask.Count()
	base := int(bm.ShadingOffset) * 4
	if base+n*4 > len(m.shading) {
		return bm, nil, false
	}
	colors := make([]uint32, n)
	for i := range colors {
		colors[i] = le.Uint32(m.shading[base+i*4:])
	}
	return bm, colors, true
}
