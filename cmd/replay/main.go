package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	persistlog "brickstream.ai/internal/persistence/log"
	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/tuning"
	"brickstream.ai/internal/stream/voxel"
	"brickstream.ai/internal/terrain/gen"
	"brickstream.ai/internal/terrain/store"
)

func main() {
	var (
		dataDir     = flag.String("data", "./data", "runtime data directory containing frames/")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed        = flag.Int64("seed", 0, "terrain seed override (must match the server run)")
		consistency = flag.Bool("check", false, "run the full consistency check after every frame")
		snapshots   = flag.Bool("snapshots", true, "verify snapshots under <data>/snapshots against the replay")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if *seed != 0 {
		tune.Terrain.Seed = *seed
	}

	files, err := persistlog.FrameFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list frame logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frame logs found in", filepath.Join(*dataDir, "frames"))
		os.Exit(1)
	}

	rp := &replayer{
		newManager:  func() (*manager.Manager, error) { return newManager(tune) },
		consistency: *consistency,
	}
	if *snapshots {
		rp.snapshots, err = loadSnapshots(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "snapshots:", err)
			os.Exit(1)
		}
	}
	for _, path := range files {
		if err := persistlog.ReadFrames(path, rp.apply); err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	if err := rp.finish(); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: runs=%d frames=%d requests=%d digests=%d snapshots=%d stale=%d tuning=%s\n",
		rp.rep.Runs, rp.rep.Frames, rp.rep.Requests, rp.rep.Digests, rp.rep.Snapshots, rp.rep.Stale, tune.Digest())
}

// loadSnapshots reads and verifies every snapshot, keyed by frame.
func loadSnapshots(dataDir string) (map[uint64]string, error) {
	paths, err := snapshot.List(dataDir)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]string, len(paths))
	for _, path := range paths {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if err := snap.Verify(); err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out[snap.Header.Frame] = snap.Header.Digest
	}
	return out, nil
}

func newManager(tune tuning.Tuning) (*manager.Manager, error) {
	var src voxel.Source
	switch tune.Terrain.Kind {
	case "sphere":
		src = gen.Sphere{Center: mgl32.Vec3{0, 0, 0}, Radius: float32(tune.Terrain.Radius)}
	default:
		st, err := store.New(tune.TerrainSettings())
		if err != nil {
			return nil, err
		}
		src = st
	}
	return manager.New(tune.ManagerConfig(), src, nil)
}
