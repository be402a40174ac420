package brickgrid

import "brickstream.ai/internal/stream/mathx"

// Upload is one dirty grid cell packed for the upload queue.
type Upload struct {
	Index   uint32
	Element Element
}

// Brickgrid is the dense per-cell load state. It does not validate what it
// overwrites; the manager owns deallocation of whatever an old element pointed at.
type Brickgrid struct {
	dims   mathx.Vec3u
	data   []Element
	staged map[uint32]struct{}
}

func New(dims mathx.Vec3u) *Brickgrid {
	data := make([]Element, dims.Volume())
	unloaded := NewElement(0, Unloaded)
	for i := range data {
		data[i] = unloaded
	}
	return &Brickgrid{
		dims:   dims,
		data:   data,
		staged: map[uint32]struct{}{},
	}
}

func (g *Brickgrid) Dims() mathx.Vec3u { return g.dims }
func (g *Brickgrid) Len() int          { return len(g.data) }

// Index returns the flat index of p, or false if p is outside the grid.
func (g *Brickgrid) Index(p mathx.Vec3u) (uint32, bool) {
	if !g.dims.Contains(p) {
		return 0, false
	}
	return mathx.FlatIndex(p, g.dims), true
}

// Set stores e at idx, marks idx for upload and returns the previous element.
// Panics if idx is out of range.
func (g *Brickgrid) Set(idx uint32, e Element) Element {
	old := g.data[idx]
	g.data[idx] = e
	g.staged[idx] = struct{}{}
	return old
}

// Get panics if idx is out of range.
func (g *Brickgrid) Get(idx uint32) Element { return g.data[idx] }

// Data exposes the backing words in flat-index order. Callers must not modify it.
func (g *Brickgrid) Data() []Element { return g.data }

// Pending is the number of cells waiting for upload.
func (g *Brickgrid) Pending() int { return len(g.staged) }

// StageAll marks every cell for upload, e.g. after a renderer reconnects.
func (g *Brickgrid) StageAll() {
	for i := range g.data {
		g.staged[uint32(i)] = struct{}{}
	}
}

// DrainUploadBatch removes up to maxCount dirty cells and returns their current
// values. Anything beyond maxCount stays dirty for the next drain.
func (g *Brickgrid) DrainUploadBatch(maxCount int) []Upload {
	n := len(g.staged)
	if maxCount < n {
		n = maxCount
	}
	if n <= 0 {
		return nil
	}
	out := make([]Upload, 0, n)
	for idx := range g.staged {
		if len(out) == n {
			break
		}
		out = append(out, Upload{Index: idx, Element: g.data[idx]})
		delete(g.staged, idx)
	}
	return out
}
