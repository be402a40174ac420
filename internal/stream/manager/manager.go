// Package manager owns the brickgrid, brickmap cache and shading-table
// allocator, and keeps them consistent while servicing brick requests.
package manager

import (
	"errors"
	"fmt"
	"io"
	"log"

	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/shading"
	"brickstream.ai/internal/stream/surface"
	"brickstream.ai/internal/stream/voxel"
)

var (
	ErrOutOfBounds      = errors.New("manager: grid position out of bounds")
	ErrShadingTableFull = errors.New("manager: shading table full")
)

type Config struct {
	GridDims mathx.Vec3u
	// GridOrigin is the world brick coordinate of grid cell (0,0,0).
	GridOrigin mathx.Vec3i

	CacheCapacity     int
	ShadingBuckets    uint32
	ElementsPerBucket uint32

	MaxGridUploads  int
	MaxBrickUploads int
}

func (c Config) Validate() error {
	if c.GridDims.Volume() <= 0 {
		return fmt.Errorf("manager: grid dims must be positive, got %+v", c.GridDims)
	}
	if c.CacheCapacity <= 0 || uint64(c.CacheCapacity) > uint64(brickgrid.MaxPointer)+1 {
		return fmt.Errorf("manager: cache capacity %d out of range", c.CacheCapacity)
	}
	if c.MaxGridUploads <= 0 || c.MaxBrickUploads <= 0 {
		return fmt.Errorf("manager: upload limits must be positive (grid=%d brick=%d)", c.MaxGridUploads, c.MaxBrickUploads)
	}
	return nil
}

// Counters are cumulative request outcomes since the manager was created.
type Counters struct {
	Requests  uint64 `json:"requests"`
	Empty     uint64 `json:"empty"`
	Loaded    uint64 `json:"loaded"`
	Refreshed uint64 `json:"refreshed"`
	Evicted   uint64 `json:"evicted"`
	Deferred  uint64 `json:"deferred"`
	Errors    uint64 `json:"errors"`
}

// Manager is not safe for concurrent use; drive it from a single goroutine.
type Manager struct {
	cfg    Config
	src    voxel.Source
	logger *log.Logger

	grid  *brickgrid.Brickgrid
	cache *brickcache.Cache
	alloc *shading.Allocator

	counters Counters
}

func New(cfg Config, src voxel.Source, logger *log.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errors.New("manager: nil voxel source")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	alloc, err := shading.New(cfg.ShadingBuckets, cfg.ElementsPerBucket)
	if err != nil {
		return nil, err
	}
	cache, err := brickcache.New(cfg.CacheCapacity)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:    cfg,
		src:    src,
		logger: logger,
		grid:   brickgrid.New(cfg.GridDims),
		cache:  cache,
		alloc:  alloc,
	}, nil
}

func (m *Manager) Config() Config { return m.cfg }

// Element returns the current grid word for a cell.
func (m *Manager) Element(pos mathx.Vec3u) (brickgrid.Element, bool) {
	idx, ok := m.grid.Index(pos)
	if !ok {
		return 0, false
	}
	return m.grid.Get(idx), true
}

// HandleRequest loads the brick at grid position pos. Culled-away bricks are
// stored as Empty. When the shading table cannot fit the brick the cell is
// left Unloaded and ErrShadingTableFull is returned; the request can be
// retried on a later frame.
func (m *Manager) HandleRequest(pos mathx.Vec3u) error {
	idx, ok := m.grid.Index(pos)
	if !ok {
		m.counters.Errors++
		return fmt.Errorf("%w: %d,%d,%d (dims %d,%d,%d)", ErrOutOfBounds,
			pos.X, pos.Y, pos.Z, m.cfg.GridDims.X, m.cfg.GridDims.Y, m.cfg.GridDims.Z)
	}
	m.counters.Requests++

	brick := m.cullBrick(pos)

	prev := m.grid.Get(idx)
	if prev.IsLoaded() {
		m.release(idx, prev.Pointer())
	}

	if brick.IsEmpty() {
		m.grid.Set(idx, brickgrid.NewElement(0, brickgrid.Empty))
		m.counters.Empty++
		return nil
	}

	offset, ok := m.alloc.TryAlloc(uint32(len(brick.Colors)))
	if !ok {
		if prev.Flag() != brickgrid.Unloaded {
			m.grid.Set(idx, brickgrid.NewElement(0, brickgrid.Unloaded))
		}
		m.counters.Deferred++
		return fmt.Errorf("%w: %d colours for cell %d", ErrShadingTableFull, len(brick.Colors), idx)
	}

	slot, evicted, err := m.cache.AddEntry(idx, offset, brick)
	if err != nil {
		m.dealloc(offset)
		m.grid.Set(idx, brickgrid.NewElement(0, brickgrid.Unloaded))
		m.counters.Errors++
		return err
	}
	if evicted != nil {
		m.evict(slot, *evicted)
	}

	m.grid.Set(idx, brickgrid.NewElement(slot, brickgrid.Loaded))
	if prev.IsLoaded() {
		m.counters.Refreshed++
	} else {
		m.counters.Loaded++
	}
	return nil
}

func (m *Manager) cullBrick(pos mathx.Vec3u) voxel.Brick {
	brickPos := m.cfg.GridOrigin.Add(pos.Signed())
	center := m.src.Region(brickPos.Scale(voxel.BrickSize), voxel.BrickShape)
	var neighbours [6][]voxel.Voxel
	for i, off := range surface.Offsets {
		neighbours[i] = m.src.Region(brickPos.Add(off).Scale(voxel.BrickSize), voxel.BrickShape)
	}
	return surface.Cull(center, neighbours)
}

// release frees the cache slot and shading region held by a Loaded cell.
func (m *Manager) release(idx, slot uint32) {
	entry, ok := m.cache.RemoveEntry(slot)
	if !ok {
		m.logger.Printf("cell %d pointed at empty cache slot %d", idx, slot)
		m.counters.Errors++
		return
	}
	if entry.GridIdx != idx {
		m.logger.Printf("cache slot %d belongs to cell %d, not %d", slot, entry.GridIdx, idx)
		m.counters.Errors++
	}
	m.dealloc(entry.ShadingOffset)
}

// evict drops the previous occupant of a reused ring slot.
func (m *Manager) evict(slot uint32, e brickcache.Entry) {
	m.dealloc(e.ShadingOffset)
	m.counters.Evicted++
	if int(e.GridIdx) >= m.grid.Len() {
		return
	}
	cur := m.grid.Get(e.GridIdx)
	if cur.IsLoaded() && cur.Pointer() == slot {
		m.grid.Set(e.GridIdx, brickgrid.NewElement(0, brickgrid.Unloaded))
	}
}

func (m *Manager) dealloc(offset uint32) {
	if err := m.alloc.TryDealloc(offset); err != nil {
		m.logger.Printf("shading dealloc: %v", err)
		m.counters.Errors++
	}
}
