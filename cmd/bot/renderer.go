package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"brickstream.ai/internal/protocol"
	"brickstream.ai/internal/stream/brickgrid"
	"brickstream.ai/internal/stream/gpubuf"
	"brickstream.ai/internal/stream/mathx"
)

// renderer stands in for the GPU raycaster: it keeps every buffer in a
// gpubuf.Mirror, applies upload frames, and raises requests for Unloaded
// cells around a camera.
type renderer struct {
	conn    *websocket.Conn
	log     *log.Logger
	welcome protocol.WelcomeMsg
	mirror  *gpubuf.Mirror
	dims    mathx.Vec3u

	// pendingGrid holds a grid write until its brick write arrives.
	pendingGrid  []byte
	pendingFrame uint64

	mu      sync.Mutex
	frames  uint64
	resets  uint64
	applied int
	// inflight plays the part of the Loading flag: a cell is requested once
	// per upload frame.
	inflight map[mathx.Vec3u]struct{}
}

func dialRenderer(ctx context.Context, url, name string, maxQueue int, logger *log.Logger) (*renderer, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
		MaxQueue:        maxQueue,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		_ = conn.Close()
		return nil, fmt.Errorf("server rejected HELLO: %s %s", e.Code, e.Message)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil || w.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}

	p := w.Stream
	dims := mathx.Vec3u{X: p.GridDims[0], Y: p.GridDims[1], Z: p.GridDims[2]}
	r := &renderer{
		conn:     conn,
		log:      logger,
		welcome:  w,
		dims:     dims,
		inflight: map[mathx.Vec3u]struct{}{},
		mirror: gpubuf.NewMirror(gpubuf.MirrorConfig{
			GridDims:           dims,
			CacheCapacity:      p.CacheCapacity,
			ShadingElements:    p.ShadingElements,
			GridQueueCapacity:  p.GridQueueCapacity,
			BrickQueueCapacity: p.BrickQueueCapacity,
			FeedbackCapacity:   p.FeedbackCapacity,
		}),
	}
	logger.Printf("WELCOME session=%s grid=%v cache=%d tuning=%s", w.SessionID, p.GridDims, p.CacheCapacity, w.TuningDigest)
	return r, nil
}

func (r *renderer) Close() error { return r.conn.Close() }

// readLoop applies server frames until the connection fails or ctx ends.
func (r *renderer) readLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		mt, msg, err := r.conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		bin, err := protocol.DecodeBinary(msg)
		if err != nil {
			r.log.Printf("bad frame: %v", err)
			continue
		}
		if err := r.apply(ctx, bin); err != nil {
			return err
		}
	}
}

func (r *renderer) apply(ctx context.Context, bin protocol.Binary) error {
	switch bin.Tag {
	case protocol.TagWorldState:
		dims, err := gpubuf.DecodeWorldState(bin.Payload)
		if err != nil {
			return err
		}
		if dims != r.dims {
			return fmt.Errorf("world state dims %+v do not match WELCOME %+v", dims, r.dims)
		}
	case protocol.TagGridUpload:
		r.pendingGrid = append(r.pendingGrid[:0], bin.Payload...)
		r.pendingFrame = bin.Frame
	case protocol.TagBrickUpload:
		if bin.Frame != r.pendingFrame {
			return fmt.Errorf("brick upload for frame %d without its grid upload (have %d)", bin.Frame, r.pendingFrame)
		}
		f := gpubuf.Frame{Number: bin.Frame, GridQueue: r.pendingGrid, BrickQueue: bin.Payload}
		if err := r.mirror.Upload(ctx, f); err != nil {
			return fmt.Errorf("frame %d: %w", bin.Frame, err)
		}
		r.mu.Lock()
		r.frames++
		r.applied += int(f.GridCount())
		clear(r.inflight)
		r.mu.Unlock()
	case protocol.TagFeedbackReset:
		if err := r.mirror.ResetFeedback(ctx); err != nil {
			return err
		}
		r.mu.Lock()
		r.resets++
		r.mu.Unlock()
	}
	return nil
}

// sendFeedback ships the whole feedback buffer, header included.
func (r *renderer) sendFeedback(ctx context.Context) error {
	buf, err := r.mirror.ReadFeedback(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	frame := r.frames
	r.mu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return r.conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeBinary(protocol.TagFeedback, frame, buf))
}

// look raises a request for every Unloaded cell within radius of camera,
// the way rays would hit them. It returns the number raised.
func (r *renderer) look(camera mathx.Vec3i, radius int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for z := camera.Z - radius; z <= camera.Z+radius; z++ {
		for y := camera.Y - radius; y <= camera.Y+radius; y++ {
			for x := camera.X - radius; x <= camera.X+radius; x++ {
				if x < 0 || y < 0 || z < 0 {
					continue
				}
				p := mathx.Vec3u{X: uint32(x), Y: uint32(y), Z: uint32(z)}
				el, ok := r.mirror.Element(p)
				if !ok || el.Flag() != brickgrid.Unloaded {
					continue
				}
				if _, dup := r.inflight[p]; dup {
					continue
				}
				r.inflight[p] = struct{}{}
				r.mirror.Request(p)
				n++
			}
		}
	}
	return n
}

type rendererStats struct {
	Frames  uint64
	Resets  uint64
	Applied int
	Loaded  int
	Empty   int
}

func (r *renderer) stats() rendererStats {
	r.mu.Lock()
	s := rendererStats{Frames: r.frames, Resets: r.resets, Applied: r.applied}
	r.mu.Unlock()
	for _, w := range r.mirror.GridWords() {
		switch brickgrid.Element(w).Flag() {
		case brickgrid.Loaded:
			s.Loaded++
		case brickgrid.Empty:
			s.Empty++
		}
	}
	return s
}
