// Package runtime drives the streaming manager once per frame: read back
// the feedback buffer, service its requests, then hand the bounded upload
// batch to the renderer.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"brickstream.ai/internal/persistence/snapshot"
	"brickstream.ai/internal/stream/gpubuf"
	"brickstream.ai/internal/stream/manager"
	"brickstream.ai/internal/stream/mathx"
)

// FeedbackSource is the renderer side of the request list. ReadFeedback
// blocks until the buffer is visible to the host.
type FeedbackSource interface {
	ReadFeedback(ctx context.Context) ([]byte, error)
	ResetFeedback(ctx context.Context) error
}

type UploadSink interface {
	Upload(ctx context.Context, f gpubuf.Frame) error
}

type FrameRecorder interface {
	WriteFrame(entry FrameLogEntry) error
}

type FrameLogEntry struct {
	Frame    uint64      `json:"frame"`
	Requests [][3]uint32 `json:"requests,omitempty"`
	// Overflow counts requests the renderer raised beyond buffer capacity.
	Overflow uint32 `json:"overflow,omitempty"`

	Empty     int `json:"empty"`
	Loaded    int `json:"loaded"`
	Refreshed int `json:"refreshed"`
	Evicted   int `json:"evicted"`
	Deferred  int `json:"deferred"`
	Errors    int `json:"errors"`

	GridUploads  int `json:"grid_uploads"`
	BrickUploads int `json:"brick_uploads"`
	GridBacklog  int `json:"grid_backlog"`
	BrickBacklog int `json:"brick_backlog"`

	LoadedBricks int    `json:"loaded_bricks"`
	ShadingUsed  uint32 `json:"shading_used"`

	StepMS float64 `json:"step_ms"`
	Digest string  `json:"digest,omitempty"`
}

type Config struct {
	FrameRateHz int
	// FeedbackTimeout bounds the readback wait; a frame that times out is
	// treated as having no requests.
	FeedbackTimeout time.Duration
	// DigestEvery records the manager digest every N frames; 0 disables it.
	DigestEvery int
	// SnapshotEvery sends a manager snapshot to the sink every N frames; 0
	// disables it.
	SnapshotEvery int
	TuningDigest  string
}

type Runtime struct {
	cfg      Config
	mgr      *manager.Manager
	feedback FeedbackSource
	sink     UploadSink
	logger   *log.Logger

	recorder     FrameRecorder
	snapshotSink chan<- snapshot.SnapshotV1

	frame      uint64
	needResync bool
	resync     chan struct{}

	metrics atomic.Value
}

func New(cfg Config, mgr *manager.Manager, feedback FeedbackSource, sink UploadSink, logger *log.Logger) (*Runtime, error) {
	if mgr == nil || feedback == nil || sink == nil {
		return nil, errors.New("runtime: manager, feedback source and sink are required")
	}
	if cfg.FrameRateHz <= 0 {
		return nil, fmt.Errorf("runtime: frame rate must be positive, got %d", cfg.FrameRateHz)
	}
	if cfg.FeedbackTimeout <= 0 {
		cfg.FeedbackTimeout = time.Second / time.Duration(cfg.FrameRateHz)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	r := &Runtime{
		cfg:      cfg,
		mgr:      mgr,
		feedback: feedback,
		sink:     sink,
		logger:   logger,
		resync:   make(chan struct{}, 1),
	}
	r.metrics.Store(Metrics{Stats: mgr.Stats()})
	return r, nil
}

func (r *Runtime) SetFrameRecorder(rec FrameRecorder) { r.recorder = rec }

// SetSnapshotSink must be called before Run. A full sink drops the snapshot.
func (r *Runtime) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { r.snapshotSink = ch }

// RequestResync asks the loop to re-stage every grid cell and live brick
// before the next frame. Safe to call from any goroutine.
func (r *Runtime) RequestResync() {
	select {
	case r.resync <- struct{}{}:
	default:
	}
}

func (r *Runtime) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(r.cfg.FrameRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.resync:
			r.needResync = true
		case <-ticker.C:
			if _, err := r.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Printf("frame %d: %v", r.frame, err)
			}
		}
	}
}

// Step runs one frame. The upload drain happens every frame, whether or not
// the renderer asked for anything, so backlog from earlier frames flushes.
func (r *Runtime) Step(ctx context.Context) (FrameLogEntry, error) {
	start := time.Now()
	entry := FrameLogEntry{Frame: r.frame}
	r.frame++

	select {
	case <-r.resync:
		r.needResync = true
	default:
	}
	if r.needResync {
		r.mgr.Resync()
		r.needResync = false
	}

	reqs, count, err := r.readFeedback(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return entry, ctx.Err()
		}
		r.logger.Printf("frame %d: feedback readback: %v", entry.Frame, err)
		entry.Errors++
	}
	if count > 0 {
		if err := r.feedback.ResetFeedback(ctx); err != nil {
			r.logger.Printf("frame %d: feedback reset: %v", entry.Frame, err)
			entry.Errors++
		}
	}
	if count > uint32(len(reqs)) {
		entry.Overflow = count - uint32(len(reqs))
	}

	before := r.mgr.Stats().Counters
	for _, p := range reqs {
		entry.Requests = append(entry.Requests, [3]uint32{p.X, p.Y, p.Z})
		if err := r.mgr.HandleRequest(p); err != nil && !errors.Is(err, manager.ErrShadingTableFull) {
			r.logger.Printf("frame %d: request %d,%d,%d: %v", entry.Frame, p.X, p.Y, p.Z, err)
		}
	}
	after := r.mgr.Stats().Counters
	entry.Empty = int(after.Empty - before.Empty)
	entry.Loaded = int(after.Loaded - before.Loaded)
	entry.Refreshed = int(after.Refreshed - before.Refreshed)
	entry.Evicted = int(after.Evicted - before.Evicted)
	entry.Deferred = int(after.Deferred - before.Deferred)
	entry.Errors += int(after.Errors - before.Errors)

	batch := r.mgr.DrainUploads()
	entry.GridUploads = len(batch.Grid)
	entry.BrickUploads = len(batch.Bricks)
	entry.GridBacklog = batch.GridBacklog
	entry.BrickBacklog = batch.BrickBacklog

	var sinkErr error
	if !batch.Empty() {
		f, err := gpubuf.BuildFrame(entry.Frame, batch.Grid, batch.Bricks)
		if err == nil {
			err = r.sink.Upload(ctx, f)
		}
		if err != nil {
			// The drained entries are gone; the renderer needs a full restage.
			r.needResync = true
			entry.Errors++
			sinkErr = fmt.Errorf("upload: %w", err)
		}
	}

	stats := r.mgr.Stats()
	entry.LoadedBricks = stats.LoadedBricks
	entry.ShadingUsed = stats.ShadingUsed
	if r.cfg.DigestEvery > 0 && entry.Frame%uint64(r.cfg.DigestEvery) == 0 {
		entry.Digest = r.mgr.Digest()
	}
	entry.StepMS = float64(time.Since(start).Microseconds()) / 1000

	if len(reqs) > 0 {
		r.logger.Printf("frame %d: %d requests, %d loaded brickmaps, uploads grid=%d brick=%d, backlog grid=%d brick=%d",
			entry.Frame, len(reqs), stats.LoadedBricks, entry.GridUploads, entry.BrickUploads, entry.GridBacklog, entry.BrickBacklog)
	}

	r.publish(entry, stats)
	if r.snapshotSink != nil && r.cfg.SnapshotEvery > 0 && entry.Frame%uint64(r.cfg.SnapshotEvery) == 0 {
		select {
		case r.snapshotSink <- snapshot.New(entry.Frame, r.cfg.TuningDigest, r.mgr.State()):
		default:
			r.logger.Printf("frame %d: snapshot sink full, dropped", entry.Frame)
		}
	}
	if r.recorder != nil {
		if err := r.recorder.WriteFrame(entry); err != nil {
			r.logger.Printf("frame %d: frame log: %v", entry.Frame, err)
		}
	}
	return entry, sinkErr
}

func (r *Runtime) readFeedback(ctx context.Context) ([]mathx.Vec3u, uint32, error) {
	rctx, cancel := context.WithTimeout(ctx, r.cfg.FeedbackTimeout)
	defer cancel()
	buf, err := r.feedback.ReadFeedback(rctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return gpubuf.DecodeFeedback(buf)
}
