package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Disconnect reasons used as the "reason" label.
const (
	reasonClosed       = "closed"
	reasonIdle         = "idle"
	reasonSlowConsumer = "slow_consumer"
	reasonShutdown     = "shutdown"
)

// Metrics holds the server's Prometheus collectors. Each Server owns its own
// registry so independent instances (tests) never collide.
type Metrics struct {
	startTime time.Time
	Registry  *prometheus.Registry

	ConnectionsTotal prometheus.Counter
	Disconnects      *prometheus.CounterVec // by reason

	FramesIn        *prometheus.CounterVec // by message type
	FramesOut       prometheus.Counter
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	MalformedFrames prometheus.Counter
	UnknownFrames   prometheus.Counter
	SendFailures    prometheus.Counter

	RoomsCreated prometheus.Counter
	RoomsDeleted prometheus.Counter
	RoomErrors   *prometheus.CounterVec // by wire error code

	ChatRelayed  prometheus.Counter
	ChatRejected prometheus.Counter

	DispatchSeconds prometheus.Histogram
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),
		Registry:  reg,

		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_connections_total",
			Help: "Lifetime websocket connections accepted.",
		}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelsync_disconnects_total",
			Help: "Client disconnects by reason.",
		}, []string{"reason"}),

		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelsync_frames_in_total",
			Help: "Decoded inbound frames by message type.",
		}, []string{"type"}),
		FramesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_frames_out_total",
			Help: "Frames queued to clients.",
		}),
		BytesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_bytes_in_total",
			Help: "Inbound frame bytes.",
		}),
		BytesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_bytes_out_total",
			Help: "Outbound frame bytes queued.",
		}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_frames_malformed_total",
			Help: "Inbound frames dropped as malformed.",
		}),
		UnknownFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_frames_unknown_total",
			Help: "Inbound frames with an unknown type.",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_send_failures_total",
			Help: "Frames that could not be queued to a client.",
		}),

		RoomsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_rooms_created_total",
			Help: "Rooms created.",
		}),
		RoomsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_rooms_deleted_total",
			Help: "Rooms deleted after their last member left.",
		}),
		RoomErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelsync_room_errors_total",
			Help: "Rejected room requests by error code.",
		}, []string{"code"}),

		ChatRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_chat_messages_total",
			Help: "Chat messages relayed.",
		}),
		ChatRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "pixelsync_chat_rejected_total",
			Help: "Chat messages rejected by the sanitizer.",
		}),

		DispatchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelsync_dispatch_seconds",
			Help:    "Time spent handling one inbound frame.",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		}),
	}
}

// registerGauges exposes live session and room counts.
func (m *Metrics) registerGauges(sessions func() int, rooms func() int) {
	f := promauto.With(m.Registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pixelsync_sessions_active",
		Help: "Current connected sessions.",
	}, func() float64 { return float64(sessions()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pixelsync_rooms_active",
		Help: "Current rooms.",
	}, func() float64 { return float64(rooms()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pixelsync_uptime_seconds",
		Help: "Server uptime in seconds.",
	}, func() float64 { return time.Since(m.startTime).Seconds() })
}

// MetricsSnapshot is a point-in-time view used by the status log.
type MetricsSnapshot struct {
	Uptime          string
	Connections     int64
	Disconnects     int64
	FramesIn        int64
	FramesOut       int64
	MalformedFrames int64
	ChatRelayed     int64
}

// Snapshot sums the counters currently in the registry.
func (m *Metrics) Snapshot() MetricsSnapshot {
	totals := map[string]float64{}
	families, err := m.Registry.Gather()
	if err != nil {
		slog.Debug("metrics gather failed", "err", err)
	}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range mf.GetMetric() {
			totals[mf.GetName()] += metric.GetCounter().GetValue()
		}
	}
	return MetricsSnapshot{
		Uptime:          time.Since(m.startTime).Truncate(time.Second).String(),
		Connections:     int64(totals["pixelsync_connections_total"]),
		Disconnects:     int64(totals["pixelsync_disconnects_total"]),
		FramesIn:        int64(totals["pixelsync_frames_in_total"]),
		FramesOut:       int64(totals["pixelsync_frames_out_total"]),
		MalformedFrames: int64(totals["pixelsync_frames_malformed_total"]),
		ChatRelayed:     int64(totals["pixelsync_chat_messages_total"]),
	}
}
