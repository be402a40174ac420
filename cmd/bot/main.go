package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"brickstream.ai/internal/stream/mathx"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "renderer name")
		radius   = flag.Int("radius", 4, "request radius around the camera, in bricks")
		speed    = flag.Float64("speed", 0.5, "camera speed along +X, in bricks per frame")
		maxQueue = flag.Int("max_queue", 32, "outbound frames the server may buffer for us")
		duration = flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		cancel()
	}()
	if *duration > 0 {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, *duration)
		defer c()
	}

	r, err := dialRenderer(ctx, *url, *name, *maxQueue, logger)
	if err != nil {
		logger.Fatalf("connect: %v", err)
	}
	defer r.Close()

	readErr := make(chan error, 1)
	go func() { readErr <- r.readLoop(ctx) }()

	hz := r.welcome.Stream.FrameRateHz
	if hz <= 0 {
		hz = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	dims := r.dims
	x := 0.0
	frame := 0
	for {
		select {
		case <-ctx.Done():
			s := r.stats()
			logger.Printf("done frames=%d resets=%d loaded=%d empty=%d", s.Frames, s.Resets, s.Loaded, s.Empty)
			return
		case err := <-readErr:
			logger.Printf("connection closed: %v", err)
			return
		case <-ticker.C:
		}

		camera := mathx.Vec3i{
			X: int(x) % int(dims.X),
			Y: int(dims.Y) / 2,
			Z: int(dims.Z) / 2,
		}
		x += *speed
		r.look(camera, *radius)
		if err := r.sendFeedback(ctx); err != nil {
			logger.Printf("send feedback: %v", err)
			return
		}

		frame++
		if frame%hz == 0 {
			s := r.stats()
			logger.Printf("camera=%v frames=%d grid_uploads=%d loaded=%d empty=%d", camera, s.Frames, s.Applied, s.Loaded, s.Empty)
		}
	}
}
