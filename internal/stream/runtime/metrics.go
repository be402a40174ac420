package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"brickstream.ai/internal/stream/manager"
)

const (
	outcomeLabel = "outcome"
	queueLabel   = "queue"
)

var (
	loadedBricks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brickstream_loaded_bricks",
		Help: "The number of bricks resident in the brickmap cache.",
	})

	shadingUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brickstream_shading_used_elements",
		Help: "Shading table elements held by loaded bricks.",
	})

	uploadBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brickstream_upload_backlog",
		Help: "Staged uploads left over after the last frame.",
	}, []string{queueLabel})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brickstream_requests_total",
		Help: "Brick requests handled, by outcome.",
	}, []string{outcomeLabel})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brickstream_evictions_total",
		Help: "Cache entries evicted by ring advancement.",
	})

	frameSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brickstream_frame_seconds",
		Help:    "Time spent in one streaming frame.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

// Metrics is a read-only view of the last frame, safe to read from HTTP
// handlers while the loop runs.
type Metrics struct {
	Frame    uint64        `json:"frame"`
	Requests int           `json:"requests"`
	Overflow uint32        `json:"overflow"`
	StepMS   float64       `json:"step_ms"`
	Stats    manager.Stats `json:"stats"`
}

func (r *Runtime) Metrics() Metrics {
	v := r.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, _ := v.(Metrics)
	return m
}

func (r *Runtime) publish(e FrameLogEntry, stats manager.Stats) {
	r.metrics.Store(Metrics{
		Frame:    e.Frame,
		Requests: len(e.Requests),
		Overflow: e.Overflow,
		StepMS:   e.StepMS,
		Stats:    stats,
	})

	loadedBricks.Set(float64(stats.LoadedBricks))
	shadingUsed.Set(float64(stats.ShadingUsed))
	uploadBacklog.With(prometheus.Labels{queueLabel: "grid"}).Set(float64(e.GridBacklog))
	uploadBacklog.With(prometheus.Labels{queueLabel: "brick"}).Set(float64(e.BrickBacklog))
	requestsTotal.With(prometheus.Labels{outcomeLabel: "empty"}).Add(float64(e.Empty))
	requestsTotal.With(prometheus.Labels{outcomeLabel: "loaded"}).Add(float64(e.Loaded))
	requestsTotal.With(prometheus.Labels{outcomeLabel: "refreshed"}).Add(float64(e.Refreshed))
	requestsTotal.With(prometheus.Labels{outcomeLabel: "deferred"}).Add(float64(e.Deferred))
	evictionsTotal.Add(float64(e.Evicted))
	frameSeconds.Observe(e.StepMS / 1000)
}
