package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 网关指标；nil 接收者上的方法都是空操作，便于单测不注册
type Metrics struct {
	sessions   prometheus.Gauge
	calls      prometheus.Gauge
	connects   prometheus.Counter
	evictions  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	frames     *prometheus.CounterVec
	sweepTime  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ppsignal_sessions_active",
			Help: "Current number of registered sessions.",
		}),
		calls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ppsignal_calls_active",
			Help: "Current number of active voice calls.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ppsignal_connects_total",
			Help: "Authenticated websocket connections since start.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ppsignal_evictions_total",
			Help: "Sessions removed from the registry grouped by reason.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ppsignal_deliveries_total",
			Help: "Notification sends grouped by result.",
		}, []string{"result"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ppsignal_frames_total",
			Help: "Inbound signaling frames grouped by type.",
		}, []string{"type"}),
		sweepTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ppsignal_sweep_seconds",
			Help:    "Duration of one liveness sweep.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	reg.MustRegister(m.sessions, m.calls, m.connects, m.evictions, m.deliveries, m.frames, m.sweepTime)
	return m
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

func (m *Metrics) setCalls(n int) {
	if m != nil {
		m.calls.Set(float64(n))
	}
}

func (m *Metrics) connected() {
	if m != nil {
		m.connects.Inc()
	}
}

func (m *Metrics) evicted(reason string) {
	if m != nil {
		m.evictions.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) delivered(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
	} else {
		m.deliveries.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) frame(typ string) {
	if m != nil {
		m.frames.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) sweep(seconds float64) {
	if m != nil {
		m.sweepTime.Observe(seconds)
	}
}
