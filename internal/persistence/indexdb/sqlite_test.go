package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/mathx"
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/stream/tuning"
	"brickstream.ai/internal/transport/ws"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqFrame, frame: runtime.FrameLogEntry{Frame: 1}}

	_ = s.WriteFrame(runtime.FrameLogEntry{Frame: 2})
	_ = s.WriteSession(ws.SessionEvent{SessionID: "a", Event: "attach"})

	st := s.Stats()
	if st.DropFrameTotal != 1 {
		t.Fatalf("DropFrameTotal=%d want=1", st.DropFrameTotal)
	}
	if st.DropSessionTotal != 1 {
		t.Fatalf("DropSessionTotal=%d want=1", st.DropSessionTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_FramesAndRequests(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index", "stream.sqlite")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		_ = idx.WriteFrame(runtime.FrameLogEntry{
			Frame:        i,
			Requests:     [][3]uint32{{uint32(i), 2, 3}, {4, 5, 6}},
			Loaded:       int(i),
			GridUploads:  2,
			BrickUploads: 1,
			LoadedBricks: int(i),
			ShadingUsed:  uint32(64 * i),
			Digest:       "d",
		})
	}
	_ = idx.WriteSession(ws.SessionEvent{Time: time.Unix(100, 0), SessionID: "s1", Event: "attach", Remote: "127.0.0.1:1"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM requests`).Scan(&n); err != nil {
		t.Fatalf("count requests: %v", err)
	}
	if n != 6 {
		t.Fatalf("requests rows: got %d want 6", n)
	}
	var x, y, z int
	if err := db.QueryRow(`SELECT x,y,z FROM requests WHERE frame=3 AND seq=0`).Scan(&x, &y, &z); err != nil {
		t.Fatalf("request row: %v", err)
	}
	if x != 3 || y != 2 || z != 3 {
		t.Fatalf("request row: got %d,%d,%d want 3,2,3", x, y, z)
	}
	var sess, ev string
	if err := db.QueryRow(`SELECT session_id,event FROM sessions`).Scan(&sess, &ev); err != nil {
		t.Fatalf("session row: %v", err)
	}
	if sess != "s1" || ev != "attach" {
		t.Fatalf("session row mismatch: %s %s", sess, ev)
	}

	idx2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()
	rows, err := idx2.Frames(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Frames: got %d rows want 2", len(rows))
	}
	if rows[0].Frame != 2 || rows[0].Requests != 2 || rows[0].ShadingUsed != 128 || rows[0].Digest != "d" {
		t.Fatalf("frame row mismatch: %+v", rows[0])
	}
}

func TestSQLiteIndex_UpsertTuning(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "stream.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	if d, err := idx.TuningDigest(ctx); err != nil || d != "" {
		t.Fatalf("empty digest: got %q err=%v", d, err)
	}
	if err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	d1, err := idx.TuningDigest(ctx)
	if err != nil || len(d1) != 64 {
		t.Fatalf("digest: got %q err=%v", d1, err)
	}

	tune := tuning.Defaults()
	tune.Cache.Capacity = 1024
	if err := idx.UpsertTuning(tune); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	d2, _ := idx.TuningDigest(ctx)
	if d2 == d1 {
		t.Fatalf("digest unchanged after tuning change")
	}
}

func TestSQLiteIndex_Snapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	st := manager.State{
		GridDims:    mathx.Vec3u{X: 1, Y: 1, Z: 1},
		Grid:        []uint32{4},
		Slots:       []manager.SlotState{{Slot: 0, GridIdx: 0, ShadingOffset: 0}},
		ShadingUsed: 512,
	}
	for _, f := range []uint64{60, 30} {
		idx.RecordSnapshot(snapshot.Path("data", f), snapshot.New(f, "", st))
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	rows, err := idx.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(rows) != 2 || rows[0].Frame != 30 || rows[1].Frame != 60 {
		t.Fatalf("rows got %+v", rows)
	}
	if rows[0].Digest != st.Digest() || rows[0].LoadedBricks != 1 || rows[0].ShadingUsed != 512 {
		t.Fatalf("row got %+v", rows[0])
	}
	if rows[0].Path != snapshot.Path("data", 30) {
		t.Fatalf("path got %q", rows[0].Path)
	}
}
