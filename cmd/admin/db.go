package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	cellArg := fs.String("cell", "", "x,y,z filter (requests)")
	_ = fs.Parse(args)

	q := "frames"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "stream.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	var rows []any
	switch q {
	case "frames":
		rows, err = queryFrames(db, *limit)
	case "sessions":
		rows, err = querySessions(db, *limit)
	case "snapshots":
		rows, err = querySnapshots(db, *limit)
	case "requests":
		if strings.TrimSpace(*cellArg) == "" {
			fmt.Fprintln(os.Stderr, "requests needs -cell x,y,z")
			os.Exit(2)
		}
		pos, perr := parseVec3(*cellArg)
		if perr != nil {
			fmt.Fprintln(os.Stderr, "bad -cell:", perr)
			os.Exit(2)
		}
		rows, err = queryCellRequests(db, [3]uint32{pos.X, pos.Y, pos.Z}, *limit)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(frames|sessions|snapshots|requests)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type frameRow struct {
	Frame        int64   `json:"frame"`
	Requests     int     `json:"requests"`
	Loaded       int     `json:"loaded"`
	Evicted      int     `json:"evicted"`
	Deferred     int     `json:"deferred"`
	Errors       int     `json:"errors"`
	GridBacklog  int     `json:"grid_backlog"`
	BrickBacklog int     `json:"brick_backlog"`
	LoadedBricks int     `json:"loaded_bricks"`
	StepMS       float64 `json:"step_ms"`
	Digest       string  `json:"digest,omitempty"`
}

// queryFrames returns the latest frames, newest first.
func queryFrames(db *sql.DB, limit int) ([]any, error) {
	rows, err := db.Query(`SELECT frame,requests,loaded,evicted,deferred,errors,grid_backlog,brick_backlog,loaded_bricks,step_ms,COALESCE(digest,'') FROM frames ORDER BY frame DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r frameRow
		if err := rows.Scan(&r.Frame, &r.Requests, &r.Loaded, &r.Evicted, &r.Deferred, &r.Errors, &r.GridBacklog, &r.BrickBacklog, &r.LoadedBricks, &r.StepMS, &r.Digest); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type sessionRow struct {
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
	Remote    string `json:"remote,omitempty"`
	Reason    string `json:"reason,omitempty"`
	At        string `json:"at"`
}

func querySessions(db *sql.DB, limit int) ([]any, error) {
	rows, err := db.Query(`SELECT session_id,event,COALESCE(remote,''),COALESCE(reason,''),at FROM sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r sessionRow
		if err := rows.Scan(&r.SessionID, &r.Event, &r.Remote, &r.Reason, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type snapshotRow struct {
	Frame        int64  `json:"frame"`
	Path         string `json:"path"`
	Digest       string `json:"digest"`
	LoadedBricks int    `json:"loaded_bricks"`
	ShadingUsed  int64  `json:"shading_used"`
}

func querySnapshots(db *sql.DB, limit int) ([]any, error) {
	rows, err := db.Query(`SELECT frame,path,digest,loaded_bricks,shading_used FROM snapshots ORDER BY frame DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(&r.Frame, &r.Path, &r.Digest, &r.LoadedBricks, &r.ShadingUsed); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type requestRow struct {
	Frame int64 `json:"frame"`
	Seq   int   `json:"seq"`
}

// queryCellRequests lists the frames in which the renderer asked for one cell.
func queryCellRequests(db *sql.DB, pos [3]uint32, limit int) ([]any, error) {
	rows, err := db.Query(`SELECT frame,seq FROM requests WHERE x=? AND z=? AND y=? ORDER BY frame DESC LIMIT ?`, int64(pos[0]), int64(pos[2]), int64(pos[1]), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r requestRow
		if err := rows.Scan(&r.Frame, &r.Seq); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
