package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	pending          prometheus.Gauge
	framesTotal      *prometheus.CounterVec
	frameBytesTotal  *prometheus.CounterVec
	discardedTotal   *prometheus.CounterVec
	engineExitsTotal *prometheus.CounterVec
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "keyapi_calls_total", Help: "Calls submitted to the engine"},
			[]string{"method"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "keyapi_call_duration_seconds", Help: "Time from enqueue to response delivery"},
			[]string{"method", "outcome"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "keyapi_pending_calls", Help: "Requests written and awaiting a response"},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "keyapi_frames_total", Help: "Frames exchanged with the engine"},
			[]string{"direction"},
		),
		frameBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "keyapi_frame_bytes_total", Help: "Framed bytes exchanged with the engine"},
			[]string{"direction"},
		),
		discardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "keyapi_discarded_responses_total", Help: "Responses with no caller to deliver to"},
			[]string{"reason"},
		),
		engineExitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "keyapi_engine_exits_total", Help: "Engine process terminations"},
			[]string{"clean"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.callsTotal, m.callDuration, m.pending, m.framesTotal, m.frameBytesTotal, m.discardedTotal, m.engineExitsTotal)
	}
	return m
}

func (m *Metrics) recordCall(method string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) recordDelivery(method string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "result"
	if failed {
		outcome = "error"
	}
	m.callDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) recordFrame(direction string, n int) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction).Inc()
	m.frameBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) recordDiscard(reason string) {
	if m == nil {
		return
	}
	m.discardedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordExit(clean bool) {
	if m == nil {
		return
	}
	label := "false"
	if clean {
		label = "true"
	}
	m.engineExitsTotal.WithLabelValues(label).Inc()
}
