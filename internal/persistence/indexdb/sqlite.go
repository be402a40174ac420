package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/stream/tuning"
	"brickstream.ai/internal/transport/ws"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrame    atomic.Uint64
	dropSession  atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqSession
	reqSnapshot
)

type req struct {
	kind reqKind

	frame    runtime.FrameLogEntry
	session  ws.SessionEvent
	snapshot SnapshotRow
}

// Stats reports the writer queue; drops happen when the writer falls behind.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropFrameTotal    uint64 `json:"drop_frame_total"`
	DropSessionTotal  uint64 `json:"drop_session_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

// FrameRow is one indexed frame as returned by Frames.
type FrameRow struct {
	Frame        uint64 `json:"frame"`
	Requests     int    `json:"requests"`
	Loaded       int    `json:"loaded"`
	Evicted      int    `json:"evicted"`
	Deferred     int    `json:"deferred"`
	GridUploads  int    `json:"grid_uploads"`
	BrickUploads int    `json:"brick_uploads"`
	LoadedBricks int    `json:"loaded_bricks"`
	ShadingUsed  uint32 `json:"shading_used"`
	Digest       string `json:"digest,omitempty"`
}

type SnapshotRow struct {
	Frame        uint64 `json:"frame"`
	Path         string `json:"path"`
	Digest       string `json:"digest"`
	LoadedBricks int    `json:"loaded_bricks"`
	ShadingUsed  uint32 `json:"shading_used"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queueSize int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			requests INTEGER NOT NULL,
			overflow INTEGER NOT NULL,
			empty INTEGER NOT NULL,
			loaded INTEGER NOT NULL,
			refreshed INTEGER NOT NULL,
			evicted INTEGER NOT NULL,
			deferred INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			grid_uploads INTEGER NOT NULL,
			brick_uploads INTEGER NOT NULL,
			grid_backlog INTEGER NOT NULL,
			brick_backlog INTEGER NOT NULL,
			loaded_bricks INTEGER NOT NULL,
			shading_used INTEGER NOT NULL,
			step_ms REAL NOT NULL,
			digest TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS requests (
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			PRIMARY KEY (frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_pos_frame ON requests(x, z, y, frame);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event TEXT NOT NULL,
			remote TEXT,
			reason TEXT,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_session ON sessions(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			frame INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			loaded_bricks INTEGER NOT NULL,
			shading_used INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFrameTotal:    s.dropFrame.Load(),
		DropSessionTotal:  s.dropSession.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// WriteFrame never blocks the frame loop; the JSONL frame log remains the
// source of truth when the index drops.
func (s *SQLiteIndex) WriteFrame(entry runtime.FrameLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: entry}:
	default:
		s.dropFrame.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteSession(ev ws.SessionEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqSession, session: ev}:
	default:
		s.dropSession.Add(1)
	}
	return nil
}

// RecordSnapshot indexes a snapshot already written to path.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	row := SnapshotRow{
		Frame:        snap.Header.Frame,
		Path:         path,
		Digest:       snap.Header.Digest,
		LoadedBricks: len(snap.State.Slots),
		ShadingUsed:  snap.State.ShadingUsed,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: row}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Snapshots lists indexed snapshots in frame order.
func (s *SQLiteIndex) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT frame,path,digest,loaded_bricks,shading_used FROM snapshots ORDER BY frame`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var (
			r     SnapshotRow
			frame int64
		)
		if err := rows.Scan(&frame, &r.Path, &r.Digest, &r.LoadedBricks, &r.ShadingUsed); err != nil {
			return nil, err
		}
		r.Frame = uint64(frame)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertTuning stores the effective configuration (canonical JSON) together
// with its digest.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	digest := tune.Digest()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`, "tuning", digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

// TuningDigest returns the digest stored by UpsertTuning, or "" if none.
func (s *SQLiteIndex) TuningDigest(ctx context.Context) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM config WHERE name='tuning'`).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return digest, err
}

// Frames returns up to limit indexed frames starting at from, in frame order.
// Rows still queued in the writer are not visible yet.
func (s *SQLiteIndex) Frames(ctx context.Context, from uint64, limit int) ([]FrameRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT frame,requests,loaded,evicted,deferred,grid_uploads,brick_uploads,loaded_bricks,shading_used,COALESCE(digest,'')
		FROM frames WHERE frame >= ? ORDER BY frame LIMIT ?`, int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRow
	for rows.Next() {
		var (
			r     FrameRow
			frame int64
		)
		if err := rows.Scan(&frame, &r.Requests, &r.Loaded, &r.Evicted, &r.Deferred, &r.GridUploads, &r.BrickUploads, &r.LoadedBricks, &r.ShadingUsed, &r.Digest); err != nil {
			return nil, err
		}
		r.Frame = uint64(frame)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(frame,requests,overflow,empty,loaded,refreshed,evicted,deferred,errors,grid_uploads,brick_uploads,grid_backlog,brick_backlog,loaded_bricks,shading_used,step_ms,digest) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertRequest, _ := s.db.Prepare(`INSERT OR REPLACE INTO requests(frame,seq,x,y,z) VALUES(?,?,?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT INTO sessions(session_id,event,remote,reason,at) VALUES(?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(frame,path,digest,loaded_bricks,shading_used) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFrame, insertRequest, insertSession, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	apply := func(r req) {
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqFrame:
			f := r.frame
			var digest any
			if f.Digest != "" {
				digest = f.Digest
			}
			if insertFrame != nil {
				if _, err := tx.Stmt(insertFrame).Exec(
					int64(f.Frame),
					len(f.Requests),
					int64(f.Overflow),
					f.Empty,
					f.Loaded,
					f.Refreshed,
					f.Evicted,
					f.Deferred,
					f.Errors,
					f.GridUploads,
					f.BrickUploads,
					f.GridBacklog,
					f.BrickBacklog,
					f.LoadedBricks,
					int64(f.ShadingUsed),
					f.StepMS,
					digest,
				); err != nil {
					rollback()
					return
				}
				opCount++
			}
			for i, p := range f.Requests {
				if insertRequest == nil {
					break
				}
				if _, err := tx.Stmt(insertRequest).Exec(int64(f.Frame), i, int64(p[0]), int64(p[1]), int64(p[2])); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSession:
			ev := r.session
			at := ev.Time
			if at.IsZero() {
				at = time.Now()
			}
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(
					ev.SessionID,
					ev.Event,
					ev.Remote,
					ev.Reason,
					at.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					return
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(int64(sn.Frame), sn.Path, sn.Digest, sn.LoadedBricks, int64(sn.ShadingUsed)); err != nil {
					rollback()
					return
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	// Idle frames still reach disk within commitMaxWait.
	ticker := time.NewTicker(commitMaxWait / 4)
	defer ticker.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			apply(r)
		case <-ticker.C:
			flushIfNeeded()
		}
	}
}
