package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"brickstream.ai/internal/persistence/indexdb"
	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/gpubuf"
	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/stream/tuning"
	"brickstream.ai/internal/transport/ws"
)

func smallTuning() tuning.Tuning {
	tune := tuning.Defaults()
	tune.Grid.Dims = []int{4, 4, 4}
	tune.Grid.Origin = []int{-2, -2, -2}
	tune.Cache.Capacity = 16
	tune.Shading.ElementsPerBucket = 4096
	tune.Queues.MaxRequests = 8
	tune.Queues.MaxGridUploads = 64
	tune.Queues.MaxBrickUploads = 16
	tune.Terrain.Kind = "sphere"
	tune.Terrain.Radius = 6
	return tune
}

func TestStreamParamsFromTuning(t *testing.T) {
	p := streamParams(smallTuning())
	if p.GridDims != [3]uint32{4, 4, 4} {
		t.Fatalf("grid dims: got %v", p.GridDims)
	}
	if p.ShadingElements != 4*4096 || p.CacheCapacity != 16 || p.FeedbackCapacity != 8 {
		t.Fatalf("params mismatch: %+v", p)
	}
	if p.GridQueueCapacity != 64 || p.BrickQueueCapacity != 16 || p.FrameRateHz != 30 {
		t.Fatalf("params mismatch: %+v", p)
	}
}

func TestBuildSource(t *testing.T) {
	tune := smallTuning()
	src, st, err := buildSource(tune)
	if err != nil || src == nil || st != nil {
		t.Fatalf("sphere source: src=%v store=%v err=%v", src, st, err)
	}

	tune.Terrain.Kind = "noise"
	src, st, err = buildSource(tune)
	if err != nil || src == nil || st == nil {
		t.Fatalf("noise source: src=%v store=%v err=%v", src, st, err)
	}

	tune.Terrain.Kind = "lava"
	if _, _, err := buildSource(tune); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestStatsAndFramesHandlers(t *testing.T) {
	tune := smallTuning()
	src, st, err := buildSource(tune)
	if err != nil {
		t.Fatalf("buildSource: %v", err)
	}
	mgr, err := manager.New(tune.ManagerConfig(), src, nil)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	mirror := gpubuf.NewMirror(gpubuf.MirrorConfig{
		GridDims:           tune.GridDims(),
		CacheCapacity:      16,
		ShadingElements:    4 * 4096,
		GridQueueCapacity:  64,
		BrickQueueCapacity: 16,
		FeedbackCapacity:   8,
	})
	rt, err := runtime.New(tune.RuntimeConfig(), mgr, mirror, mirror, nil)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "stream.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	rt.SetFrameRecorder(multiFrameRecorder{b: idx})

	// The grid centre straddles the sphere surface.
	mirror.Request(mathx.Vec3u{X: 2, Y: 2, Z: 2})
	if _, err := rt.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}

	rec := httptest.NewRecorder()
	statsHandler(rt, st, idx, ws.NewServer(ws.Config{}, nil))(rec, httptest.NewRequest("GET", "/v1/stats", nil))
	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Runtime.Frame != 0 || stats.Runtime.Requests != 1 || stats.Index == nil {
		t.Fatalf("stats mismatch: %+v", stats)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = httptest.NewRecorder()
		framesHandler(idx)(rec, httptest.NewRequest("GET", "/v1/frames?from=0&limit=10", nil))
		var body struct {
			Frames []indexdb.FrameRow `json:"frames"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode frames: %v", err)
		}
		if len(body.Frames) == 1 {
			if body.Frames[0].Requests != 1 {
				t.Fatalf("frame row: %+v", body.Frames[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("frame never indexed")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestSnapshotWriterIndexesFiles(t *testing.T) {
	tune := smallTuning()
	src, _, err := buildSource(tune)
	if err != nil {
		t.Fatalf("buildSource: %v", err)
	}
	mgr, err := manager.New(tune.ManagerConfig(), src, nil)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	if err := mgr.HandleRequest(mathx.Vec3u{X: 2, Y: 2, Z: 2}); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	dir := t.TempDir()
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "stream.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan snapshot.SnapshotV1, 1)
	go writeSnapshots(ctx, dir, ch, idx, log.New(io.Discard, "", 0))
	ch <- snapshot.New(7, tune.Digest(), mgr.State())

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := httptest.NewRecorder()
		snapshotsHandler(idx)(rec, httptest.NewRequest("GET", "/v1/snapshots", nil))
		var body struct {
			Snapshots []indexdb.SnapshotRow `json:"snapshots"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode snapshots: %v", err)
		}
		if len(body.Snapshots) == 1 {
			row := body.Snapshots[0]
			if row.Frame != 7 || row.Digest != mgr.Digest() {
				t.Fatalf("snapshot row: %+v", row)
			}
			snap, err := snapshot.ReadSnapshot(row.Path)
			if err != nil {
				t.Fatalf("ReadSnapshot: %v", err)
			}
			if err := snap.Verify(); err != nil {
				t.Fatalf("Verify: %v", err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never indexed")
		}
		time.Sleep(100 * time.Millisecond)
	}
}
