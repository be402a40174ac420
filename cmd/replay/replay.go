package main

import (
	"errors"
	"fmt"

	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/runtime"
)

type report struct {
	Runs      int
	Frames    int
	Requests  int
	Digests   int
	Snapshots int
	// Stale counts snapshots from a run the frame log no longer ends with.
	Stale int
}

// replayer feeds logged request lists to a fresh manager and checks that it
// reaches the same outcomes. Frame 0 marks a server restart.
type replayer struct {
	newManager  func() (*manager.Manager, error)
	consistency bool
	// snapshots maps frame to the digest a snapshot recorded for it. Snapshot
	// files are overwritten on restart, so they describe the last run.
	snapshots map[uint64]string
	lastRun   map[uint64]string

	mgr  *manager.Manager
	next uint64
	rep  report
}

func (rp *replayer) apply(e runtime.FrameLogEntry) error {
	if rp.mgr == nil || e.Frame == 0 {
		mgr, err := rp.newManager()
		if err != nil {
			return err
		}
		rp.mgr = mgr
		rp.next = e.Frame
		rp.lastRun = map[uint64]string{}
		rp.rep.Runs++
	}
	if e.Frame != rp.next {
		return fmt.Errorf("frame gap: got %d want %d", e.Frame, rp.next)
	}
	rp.next++
	rp.rep.Frames++

	before := rp.mgr.Stats().Counters
	for _, p := range e.Requests {
		err := rp.mgr.HandleRequest(mathx.Vec3u{X: p[0], Y: p[1], Z: p[2]})
		if err != nil && !errors.Is(err, manager.ErrShadingTableFull) && !errors.Is(err, manager.ErrOutOfBounds) {
			return fmt.Errorf("frame %d: request %v: %w", e.Frame, p, err)
		}
		rp.rep.Requests++
	}
	after := rp.mgr.Stats().Counters
	got := [5]int{
		int(after.Empty - before.Empty),
		int(after.Loaded - before.Loaded),
		int(after.Refreshed - before.Refreshed),
		int(after.Evicted - before.Evicted),
		int(after.Deferred - before.Deferred),
	}
	want := [5]int{e.Empty, e.Loaded, e.Refreshed, e.Evicted, e.Deferred}
	if got != want {
		return fmt.Errorf("frame %d: outcomes empty/loaded/refreshed/evicted/deferred got %v want %v", e.Frame, got, want)
	}

	// Staged uploads do not affect state; drain them so staging stays bounded.
	rp.mgr.DrainUploads()

	stats := rp.mgr.Stats()
	if stats.LoadedBricks != e.LoadedBricks || stats.ShadingUsed != e.ShadingUsed {
		return fmt.Errorf("frame %d: loaded=%d shading=%d want loaded=%d shading=%d",
			e.Frame, stats.LoadedBricks, stats.ShadingUsed, e.LoadedBricks, e.ShadingUsed)
	}
	if rp.consistency {
		if err := rp.mgr.CheckConsistency(); err != nil {
			return fmt.Errorf("frame %d: %w", e.Frame, err)
		}
	}
	if e.Digest != "" {
		if got := rp.mgr.Digest(); got != e.Digest {
			return fmt.Errorf("digest mismatch at frame %d: got=%s want=%s", e.Frame, got, e.Digest)
		}
		rp.rep.Digests++
	}
	if _, ok := rp.snapshots[e.Frame]; ok {
		rp.lastRun[e.Frame] = rp.mgr.Digest()
	}
	return nil
}

// finish compares snapshot digests against the last replayed run.
func (rp *replayer) finish() error {
	for frame, want := range rp.snapshots {
		got, ok := rp.lastRun[frame]
		if !ok {
			rp.rep.Stale++
			continue
		}
		if got != want {
			return fmt.Errorf("snapshot mismatch at frame %d: got=%s want=%s", frame, got, want)
		}
		rp.rep.Snapshots++
	}
	return nil
}
