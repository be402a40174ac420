package manager

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/mathx"
)

type Stats struct {
	LoadedBricks  int `json:"loaded_bricks"`
	CacheCapacity int `json:"cache_capacity"`

	ShadingUsed  uint32 `json:"shading_used"`
	ShadingTotal uint32 `json:"shading_total"`

	PendingGrid   int `json:"pending_grid"`
	PendingBricks int `json:"pending_bricks"`

	Counters Counters `json:"counters"`
}

func (m *Manager) Stats() Stats {
	return Stats{
		LoadedBricks:  m.cache.Loaded(),
		CacheCapacity: m.cache.Capacity(),
		ShadingUsed:   m.alloc.UsedElements(),
		ShadingTotal:  m.alloc.TotalElements(),
		PendingGrid:   m.grid.Pending(),
		PendingBricks: m.cache.Pending(),
		Counters:      m.counters,
	}
}

// CheckConsistency verifies that every Loaded cell and every live cache slot
// point at each other, and that the allocator holds exactly the regions the
// cache references.
func (m *Manager) CheckConsistency() error {
	for i, e := range m.grid.Data() {
		if !e.IsLoaded() {
			continue
		}
		entry, ok := m.cache.GetEntry(e.Pointer())
		if !ok {
			return fmt.Errorf("cell %d points at empty cache slot %d", i, e.Pointer())
		}
		if entry.GridIdx != uint32(i) {
			return fmt.Errorf("cell %d points at slot %d owned by cell %d", i, e.Pointer(), entry.GridIdx)
		}
	}

	var err error
	var used uint32
	seen := make(map[uint32]uint32)
	m.cache.Each(func(slot uint32, entry brickcache.Entry) {
		if err != nil {
			return
		}
		if int(entry.GridIdx) >= m.grid.Len() {
			err = fmt.Errorf("slot %d references cell %d outside the grid", slot, entry.GridIdx)
			return
		}
		cur := m.grid.Get(entry.GridIdx)
		if !cur.IsLoaded() || cur.Pointer() != slot {
			err = fmt.Errorf("slot %d references cell %d which is %s", slot, entry.GridIdx, cur)
			return
		}
		if other, dup := seen[entry.ShadingOffset]; dup {
			err = fmt.Errorf("slots %d and %d share shading offset %d", other, slot, entry.ShadingOffset)
			return
		}
		seen[entry.ShadingOffset] = slot
		size := m.alloc.SlotSize(entry.ShadingOffset)
		if size == 0 {
			err = fmt.Errorf("slot %d shading offset %d is outside the table", slot, entry.ShadingOffset)
			return
		}
		used += size
	})
	if err != nil {
		return err
	}
	if used != m.alloc.UsedElements() {
		return fmt.Errorf("allocator reports %d used elements, cache references %d", m.alloc.UsedElements(), used)
	}
	return nil
}

// State is a plain copy of everything the digest covers. Staged uploads are
// not part of it.
type State struct {
	GridDims   mathx.Vec3u
	GridOrigin mathx.Vec3i
	Grid       []uint32

	CacheCapacity int
	Slots         []SlotState

	ShadingUsed uint32
	BucketFree  []uint32
}

type SlotState struct {
	Slot          uint32
	GridIdx       uint32
	ShadingOffset uint32
}

func (m *Manager) State() State {
	st := State{
		GridDims:      m.cfg.GridDims,
		GridOrigin:    m.cfg.GridOrigin,
		Grid:          make([]uint32, 0, m.grid.Len()),
		CacheCapacity: m.cache.Capacity(),
		Slots:         make([]SlotState, 0, m.cache.Loaded()),
		ShadingUsed:   m.alloc.UsedElements(),
	}
	for _, e := range m.grid.Data() {
		st.Grid = append(st.Grid, uint32(e))
	}
	m.cache.Each(func(slot uint32, e brickcache.Entry) {
		st.Slots = append(st.Slots, SlotState{Slot: slot, GridIdx: e.GridIdx, ShadingOffset: e.ShadingOffset})
	})
	for _, b := range m.alloc.Buckets() {
		st.BucketFree = append(st.BucketFree, b.Free)
	}
	return st
}

// Digest hashes the grid, the cache entries and allocator usage. Two managers
// fed the same request sequence produce the same digest.
func (m *Manager) Digest() string { return m.State().Digest() }

func (s State) Digest() string {
	h := sha256.New()
	var tmp [4]byte
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:], v)
		h.Write(tmp[:])
	}

	put(s.GridDims.X)
	put(s.GridDims.Y)
	put(s.GridDims.Z)
	for _, w := range s.Grid {
		put(w)
	}

	put(uint32(s.CacheCapacity))
	for _, e := range s.Slots {
		put(e.Slot)
		put(e.GridIdx)
		put(e.ShadingOffset)
	}

	put(s.ShadingUsed)
	for _, free := range s.BucketFree {
		put(free)
	}
	return hex.EncodeToString(h.Sum(nil))
}
