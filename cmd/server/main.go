package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"brickstream.ai/internal/persistence/indexdb"
	persistlog "brickstream.ai/internal/persistence/log"
	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/gpubuf"
	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/runtime"
	"brickstream.ai/internal/stream/tuning"
	"brickstream.ai/internal/terrain/store"
	"brickstream.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "terrain seed override (0 keeps tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite frame index")
		disableLog = flag.Bool("disable_frame_log", false, "disable the zstd frame log")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
		tune.Normalize()
	}
	if *seed != 0 {
		tune.Terrain.Seed = *seed
	}
	if err := tune.Validate(); err != nil {
		logger.Fatalf("tuning: %v", err)
	}

	src, terrain, err := buildSource(tune)
	if err != nil {
		logger.Fatalf("terrain: %v", err)
	}
	mgr, err := manager.New(tune.ManagerConfig(), src, logger)
	if err != nil {
		logger.Fatalf("manager: %v", err)
	}
	logger.Printf("grid=%v cache=%d shading=%dx%d terrain=%s seed=%d",
		tune.Grid.Dims, tune.Cache.Capacity, tune.Shading.Buckets, tune.Shading.ElementsPerBucket, tune.Terrain.Kind, tune.Terrain.Seed)

	idx, err := openIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index: upsert tuning: %v", err)
		}
	}

	wsSrv := ws.NewServer(ws.Config{
		Params:       streamParams(tune),
		TuningDigest: tune.Digest(),
		WorldState:   gpubuf.EncodeWorldState(tune.GridDims()),
		MaxQueue:     envInt("BS_WS_MAX_QUEUE", 64),
	}, logger)

	rt, err := runtime.New(tune.RuntimeConfig(), mgr, wsSrv, wsSrv, logger)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}
	wsSrv.OnAttach(rt.RequestResync)

	var frames runtime.FrameRecorder
	var sessions ws.SessionRecorder
	if !*disableLog {
		frameLog := persistlog.NewFrameLogger(*dataDir)
		sessionLog := persistlog.NewSessionLogger(*dataDir)
		defer frameLog.Close()
		defer sessionLog.Close()
		frames, sessions = frameLog, sessionLog
	}
	if idx != nil {
		frames = multiFrameRecorder{a: frames, b: idx}
		sessions = multiSessionRecorder{a: sessions, b: idx}
	}
	if frames != nil {
		rt.SetFrameRecorder(frames)
	}
	if sessions != nil {
		wsSrv.SetSessionRecorder(sessions)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if tune.SnapshotEveryFrames > 0 {
		snapCh := make(chan snapshot.SnapshotV1, 2)
		rt.SetSnapshotSink(snapCh)
		go writeSnapshots(ctx, *dataDir, snapCh, idx, logger)
	}

	go func() {
		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runtime stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/stats", statsHandler(rt, terrain, idx, wsSrv))
	if idx != nil {
		mux.HandleFunc("/v1/frames", framesHandler(idx))
		mux.HandleFunc("/v1/snapshots", snapshotsHandler(idx))
	}
	if envBool("BS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (BS_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

type statsResponse struct {
	Session string          `json:"session,omitempty"`
	Runtime runtime.Metrics `json:"runtime"`
	Terrain *store.Stats    `json:"terrain,omitempty"`
	Index   *indexdb.Stats  `json:"index,omitempty"`
}

func statsHandler(rt *runtime.Runtime, terrain *store.Store, idx *indexdb.SQLiteIndex, wsSrv *ws.Server) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		resp := statsResponse{
			Session: wsSrv.SessionID(),
			Runtime: rt.Metrics(),
		}
		if terrain != nil {
			st := terrain.Stats()
			resp.Terrain = &st
		}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func framesHandler(idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
		rows, err := idx.Frames(r.Context(), from, limit)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"frames": rows})
	}
}

func snapshotsHandler(idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rows, err := idx.Snapshots(r.Context())
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"snapshots": rows})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
