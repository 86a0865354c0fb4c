package httpapi

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-micros/micros/micros"
)

const metricsNamespace = "micros"

// NewRegistry returns a registry with the Go and process collectors, the
// driver counters in m and a gauge of connected event clients.
func NewRegistry(m *micros.Metrics, clients func() int) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"frames_sent_total", "Frames written to the port.", &m.FramesSent},
		{"frames_received_total", "Valid frames read from the port.", &m.FramesRecv},
		{"frames_invalid_total", "Frames rejected for length, checksum or a short read.", &m.FramesInvalid},
		{"frames_dropped_total", "Valid frames dropped because their queue was full.", &m.FramesDropped},
		{"bytes_discarded_total", "Bytes skipped while looking for a start byte.", &m.BytesDiscarded},
		{"set_attempts_total", "SET frames sent by the confirmation engine.", &m.SetAttempts},
		{"set_confirmed_total", "Confirmed state changes.", &m.SetConfirmed},
		{"set_failed_total", "State changes that could not be confirmed.", &m.SetFailed},
		{"get_unanswered_total", "GET requests without a reply.", &m.GetUnanswered},
		{"notify_dropped_total", "State changes dropped by the notifier.", &m.NotifyDropped},
	}

	for _, c := range counters {
		v := c.v
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(v.Load()) }))
	}

	if clients != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "event_clients",
			Help:      "Connected /events WebSocket clients.",
		}, func() float64 { return float64(clients()) }))
	}

	return reg
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
