package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"brickstream.ai/internal/protocol"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/gpubuf"
	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/terrain/gen"
	"brickstream.ai/internal/transport/ws"
)

var testDims = mathx.Vec3u{X: 4, Y: 4, Z: 4}

// startStack runs manager, runtime and transport around a sphere of radius 6
// centred on grid cell (2,2,2).
func startStack(t *testing.T) string {
	t.Helper()
	mgr, err := manager.New(manager.Config{
		GridDims:          testDims,
		GridOrigin:        mathx.Vec3i{X: -2, Y: -2, Z: -2},
		CacheCapacity:     64,
		ShadingBuckets:    4,
		ElementsPerBucket: 8192,
		MaxGridUploads:    64,
		MaxBrickUploads:   16,
	}, gen.Sphere{Center: mgl32.Vec3{0, 0, 0}, Radius: 6}, nil)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	srv := ws.NewServer(ws.Config{
		Params: protocol.StreamParams{
			GridDims:           [3]uint32{testDims.X, testDims.Y, testDims.Z},
			CacheCapacity:      64,
			ShadingElements:    4 * 8192,
			GridQueueCapacity:  64,
			BrickQueueCapacity: 16,
			FeedbackCapacity:   128,
			FrameRateHz:        100,
		},
		WorldState: gpubuf.EncodeWorldState(testDims),
	}, nil)
	rt, err := runtime.New(runtime.Config{FrameRateHz: 100, FeedbackTimeout: 5 * time.Millisecond}, mgr, srv, srv, nil)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	srv.OnAttach(rt.RequestResync)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

func connect(t *testing.T, url string) *renderer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := dialRenderer(ctx, url, "test", 64, nil)
	if err != nil {
		t.Fatalf("dialRenderer: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	go func() { _ = r.readLoop(context.Background()) }()
	return r
}

func unloadedCells(r *renderer) int {
	n := 0
	for _, w := range r.mirror.GridWords() {
		if brickgrid.Element(w).Flag() == brickgrid.Unloaded {
			n++
		}
	}
	return n
}

func checkBricks(t *testing.T, r *renderer) {
	t.Helper()
	for i, w := range r.mirror.GridWords() {
		el := brickgrid.Element(w)
		if !el.IsLoaded() {
			continue
		}
		bm, colors, ok := r.mirror.Brick(el.Pointer())
		if !ok {
			t.Fatalf("cell %d: slot %d unreadable", i, el.Pointer())
		}
		if bm.Bitmask.Count() == 0 || len(colors) != bm.Bitmask.Count() {
			t.Fatalf("cell %d: bitmask count %d colours %d", i, bm.Bitmask.Count(), len(colors))
		}
	}
}

func TestRendererStreamsWholeGrid(t *testing.T) {
	url := startStack(t)
	r := connect(t, url)

	deadline := time.Now().Add(5 * time.Second)
	for unloadedCells(r) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("grid never converged: %d cells unloaded, stats %+v", unloadedCells(r), r.stats())
		}
		r.look(mathx.Vec3i{X: 2, Y: 2, Z: 2}, 2)
		if err := r.sendFeedback(context.Background()); err != nil {
			t.Fatalf("sendFeedback: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	s := r.stats()
	if s.Loaded == 0 || s.Empty == 0 {
		t.Fatalf("expected both loaded and empty cells, got %+v", s)
	}
	if s.Resets == 0 {
		t.Fatalf("expected the server to reset feedback at least once")
	}
	// The corner brick lies well outside the sphere.
	el, _ := r.mirror.Element(mathx.Vec3u{})
	if el.Flag() != brickgrid.Empty {
		t.Fatalf("corner cell got %s want EMPTY", el)
	}
	checkBricks(t, r)
}

func TestReconnectResyncsWithoutRequests(t *testing.T) {
	url := startStack(t)
	first := connect(t, url)

	deadline := time.Now().Add(5 * time.Second)
	for unloadedCells(first) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first renderer never converged")
		}
		first.look(mathx.Vec3i{X: 2, Y: 2, Z: 2}, 2)
		_ = first.sendFeedback(context.Background())
		time.Sleep(10 * time.Millisecond)
	}
	want := first.stats()
	_ = first.Close()

	// A fresh renderer never asks for anything; the attach resync alone
	// must rebuild its grid.
	second := connect(t, url)
	deadline = time.Now().Add(5 * time.Second)
	for {
		s := second.stats()
		if s.Loaded == want.Loaded && s.Empty == want.Empty {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("resync incomplete: got %+v want loaded=%d empty=%d", s, want.Loaded, want.Empty)
		}
		time.Sleep(10 * time.Millisecond)
	}
	checkBricks(t, second)
}
