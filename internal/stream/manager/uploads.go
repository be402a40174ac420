package manager

import (
	"brickstream.ai/internal/stream/brickcache"
	"brickstream.ai/internal/stream/brickgrid"
)

// UploadBatch is one frame's worth of staged changes.
type UploadBatch struct {
	Grid   []brickgrid.Upload
	Bricks []brickcache.Upload

	// Entries still staged after this batch was taken.
	GridBacklog  int
	BrickBacklog int
}

func (b UploadBatch) Empty() bool { return len(b.Grid) == 0 && len(b.Bricks) == 0 }

// DrainUploads takes at most the configured per-frame number of grid and
// brick uploads. Call it every frame so backlog from earlier frames drains.
func (m *Manager) DrainUploads() UploadBatch {
	b := UploadBatch{
		Grid:   m.grid.DrainUploadBatch(m.cfg.MaxGridUploads),
		Bricks: m.cache.DrainUploadBatch(m.cfg.MaxBrickUploads),
	}
	b.GridBacklog = m.grid.Pending()
	b.BrickBacklog = m.cache.Pending()
	return b
}

// Resync stages the whole grid and every live cache slot, for a renderer
// that starts from blank buffers.
func (m *Manager) Resync() {
	m.grid.StageAll()
	m.cache.StageAll()
}

// GridWords returns a copy of the grid as raw words in flat-index order.
func (m *Manager) GridWords() []uint32 {
	data := m.grid.Data()
	out := make([]uint32, len(data))
	for i, e := range data {
		out[i] = uint32(e)
	}
	return out
}
