package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/mathx"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", p, err)
			continue
		}
		fmt.Printf("%d\t%s\t%s\n", h.Frame, h.Digest, p)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("path", "", "snapshot path (optional; defaults to latest)")
	cell := fs.String("cell", "", "print one grid cell: x,y,z (optional)")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" {
		paths, err := snapshot.List(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		if len(paths) == 0 {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -path or run the server with snapshot_every_frames > 0")
			os.Exit(2)
		}
		p = paths[len(paths)-1]
	}

	snap, err := snapshot.ReadSnapshot(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if err := snap.Verify(); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*cell) == "" {
		printJSON(summarize(snap))
		return
	}
	pos, err := parseVec3(*cell)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -cell:", err)
		os.Exit(2)
	}
	info, err := cellInfo(snap, pos)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cell:", err)
		os.Exit(2)
	}
	printJSON(info)
}

type summary struct {
	Frame        uint64    `json:"frame"`
	Digest       string    `json:"digest"`
	TuningDigest string    `json:"tuning_digest,omitempty"`
	GridDims     [3]uint32 `json:"grid_dims"`
	Empty        int       `json:"empty"`
	Unloaded     int       `json:"unloaded"`
	Loaded       int       `json:"loaded"`
	CacheSlots   int       `json:"cache_slots"`
	ShadingUsed  uint32    `json:"shading_used"`
	BucketFree   []uint32  `json:"bucket_free"`
}

func summarize(snap snapshot.SnapshotV1) summary {
	st := snap.State
	s := summary{
		Frame:        snap.Header.Frame,
		Digest:       snap.Header.Digest,
		TuningDigest: snap.TuningDigest,
		GridDims:     [3]uint32{st.GridDims.X, st.GridDims.Y, st.GridDims.Z},
		CacheSlots:   st.CacheCapacity,
		ShadingUsed:  st.ShadingUsed,
		BucketFree:   st.BucketFree,
	}
	for _, w := range st.Grid {
		switch brickgrid.Element(w).Flag() {
		case brickgrid.Empty:
			s.Empty++
		case brickgrid.Unloaded:
			s.Unloaded++
		case brickgrid.Loaded:
			s.Loaded++
		}
	}
	return s
}

type cell struct {
	Pos           [3]uint32 `json:"pos"`
	World         [3]int    `json:"world_brick"`
	Element       string    `json:"element"`
	Slot          *uint32   `json:"slot,omitempty"`
	ShadingOffset *uint32   `json:"shading_offset,omitempty"`
}

func cellInfo(snap snapshot.SnapshotV1, pos mathx.Vec3u) (cell, error) {
	st := snap.State
	if !st.GridDims.Contains(pos) {
		return cell{}, fmt.Errorf("%v outside grid %v", pos, st.GridDims)
	}
	idx := mathx.FlatIndex(pos, st.GridDims)
	el := brickgrid.Element(st.Grid[idx])
	c := cell{
		Pos:     [3]uint32{pos.X, pos.Y, pos.Z},
		World:   [3]int{st.GridOrigin.X + int(pos.X), st.GridOrigin.Y + int(pos.Y), st.GridOrigin.Z + int(pos.Z)},
		Element: el.String(),
	}
	if !el.IsLoaded() {
		return c, nil
	}
	for _, s := range st.Slots {
		if s.Slot == el.Pointer() {
			slot, off := s.Slot, s.ShadingOffset
			c.Slot, c.ShadingOffset = &slot, &off
			return c, nil
		}
	}
	return c, fmt.Errorf("cell %v points at slot %d which is not live", pos, el.Pointer())
}

func parseVec3(s string) (mathx.Vec3u, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return mathx.Vec3u{}, fmt.Errorf("expected x,y,z")
	}
	var out [3]uint32
	for i := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, 32)
		if err != nil {
			return mathx.Vec3u{}, err
		}
		out[i] = uint32(v)
	}
	return mathx.Vec3u{X: out[0], Y: out[1], Z: out[2]}, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
