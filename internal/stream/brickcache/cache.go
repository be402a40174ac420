package brickcache

import (
	"errors"
	"fmt"

	"github.com/gammazero/deque"

	"brickstream.ai/internal/stream/voxel"
)

var ErrTooManyColors = errors.New("brickcache: brick has more colours than voxels")

// Entry ties a cache slot back to the grid cell it represents.
type Entry struct {
	GridIdx       uint32 `json:"grid_idx"`
	ShadingOffset uint32 `json:"shading_offset"`
}

// Brickmap is the GPU record for one cache slot.
type Brickmap struct {
	Bitmask       voxel.Bitmask
	ShadingOffset uint32
	LODColor      uint32
}

// Upload is a staged brick payload waiting for the upload queue.
type Upload struct {
	Slot     uint32
	Brickmap Brickmap
	Colors   []uint32
}

type slot struct {
	live   bool
	entry  Entry
	brick  Brickmap
	colors []uint32
}

// Cache is a fixed ring of brick slots. Inserts always land on the slot after
// the previous insert, so the slot overwritten next is the one written least
// recently. The cache owns the brick payloads; the grid only stores slot
// indices into it.
type Cache struct {
	slots  []slot
	cursor uint32
	loaded int
	staged deque.Deque[Upload]
}

func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("brickcache: capacity must be positive, got %d", capacity)
	}
	return &Cache{slots: make([]slot, capacity)}, nil
}

func (c *Cache) Capacity() int { return len(c.slots) }
func (c *Cache) Loaded() int   { return c.loaded }
func (c *Cache) Pending() int  { return c.staged.Len() }

// AddEntry stores the brick in the next ring slot and stages it for upload.
// If the slot was occupied, the previous entry is returned; the caller must
// release its shading slot and grid cell.
func (c *Cache) AddEntry(gridIdx, shadingOffset uint32, brick voxel.Brick) (uint32, *Entry, error) {
	if len(brick.Colors) > voxel.BrickVolume {
		return 0, nil, fmt.Errorf("%w: %d", ErrTooManyColors, len(brick.Colors))
	}

	idx := c.cursor
	c.cursor = (c.cursor + 1) % uint32(len(c.slots))

	s := &c.slots[idx]
	var evicted *Entry
	if s.live {
		old := s.entry
		evicted = &old
	} else {
		c.loaded++
	}

	colors := make([]uint32, len(brick.Colors))
	copy(colors, brick.Colors)
	*s = slot{
		live:  true,
		entry: Entry{GridIdx: gridIdx, ShadingOffset: shadingOffset},
		brick: Brickmap{
			Bitmask:       brick.Bitmask,
			ShadingOffset: shadingOffset,
			LODColor:      brick.LODColor(),
		},
		colors: colors,
	}
	c.staged.PushBack(Upload{Slot: idx, Brickmap: s.brick, Colors: colors})
	return idx, evicted, nil
}

// RemoveEntry frees a slot outside of ring order.
func (c *Cache) RemoveEntry(idx uint32) (Entry, bool) {
	if int(idx) >= len(c.slots) || !c.slots[idx].live {
		return Entry{}, false
	}
	e := c.slots[idx].entry
	c.slots[idx] = slot{}
	c.loaded--
	return e, true
}

func (c *Cache) GetEntry(idx uint32) (Entry, bool) {
	if int(idx) >= len(c.slots) || !c.slots[idx].live {
		return Entry{}, false
	}
	return c.slots[idx].entry, true
}

// Payload returns the record and colours held in a live slot.
func (c *Cache) Payload(idx uint32) (Brickmap, []uint32, bool) {
	if int(idx) >= len(c.slots) || !c.slots[idx].live {
		return Brickmap{}, nil, false
	}
	s := c.slots[idx]
	return s.brick, s.colors, true
}

// Each calls fn for every live slot in slot order.
func (c *Cache) Each(fn func(idx uint32, e Entry)) {
	for i := range c.slots {
		if c.slots[i].live {
			fn(uint32(i), c.slots[i].entry)
		}
	}
}

// DrainUploadBatch pops up to maxCount staged payloads in insertion order.
func (c *Cache) DrainUploadBatch(maxCount int) []Upload {
	n := c.staged.Len()
	if maxCount < n {
		n = maxCount
	}
	if n <= 0 {
		return nil
	}
	out := make([]Upload, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.staged.PopFront())
	}
	return out
}

// StageAll drops whatever is staged and re-stages every live slot.
func (c *Cache) StageAll() {
	c.staged.Clear()
	for i := range c.slots {
		s := &c.slots[i]
		if s.live {
			c.staged.PushBack(Upload{Slot: uint32(i), Brickmap: s.brick, Colors: s.colors})
		}
	}
}
