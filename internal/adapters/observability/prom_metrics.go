package observability

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eldaeon/sensorhub/internal/ports"
)

// PromObs logs through the standard logger and records metrics in its own
// registry. Unknown metric names are ignored.
type PromObs struct {
	reg      *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	histos   map[string]*prometheus.HistogramVec
}

func NewPromObs(reg *prometheus.Registry) *PromObs {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	p := &PromObs{
		reg:      reg,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
		histos:   make(map[string]*prometheus.HistogramVec),
	}

	p.counter("sensorhub_samples_written_total", "Samples applied to the telemetry store.", "channel")
	p.counter("sensorhub_poll_errors_total", "Failed device poll cycles.", "device", "kind")
	p.counter("sensorhub_reconnects_total", "Device reconnect attempts.", "device")
	p.counter("sensorhub_gps_nofix_total", "GPS reads that produced no fix.")
	p.counter("sensorhub_export_batches_total", "Batches committed to a sink.", "sink")
	p.counter("sensorhub_export_errors_total", "Failed sink writes.", "sink")
	p.counter("sensorhub_export_dropped_total", "Batches lost to export backpressure.", "reason")
	p.counter("sensorhub_stream_dropped_total", "Subscribers removed from the stream hub.", "reason")
	p.counter("sensorhub_http_requests_total", "HTTP requests served.", "route", "code")

	p.gauge("sensorhub_history_frames", "Frames held in the history ring.")
	p.gauge("sensorhub_device_degraded", "1 while a device is degraded.", "device")
	p.gauge("sensorhub_gps_fix", "1 while the GPS has a fix.")
	p.gauge("sensorhub_export_queue_length", "Batches waiting for export.")
	p.gauge("sensorhub_stream_subscribers", "Connected stream subscribers.")

	p.histogram("sensorhub_poll_cycle_seconds", "Duration of one device poll cycle.",
		prometheus.ExponentialBuckets(0.001, 2, 12), "device")
	p.histogram("sensorhub_sink_latency_seconds", "Latency of one sink write.",
		prometheus.ExponentialBuckets(0.001, 2, 12), "sink")
	p.histogram("sensorhub_http_request_seconds", "HTTP request duration.",
		prometheus.DefBuckets, "route")

	return p
}

func (p *PromObs) counter(name, help string, labels ...string) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	p.reg.MustRegister(c)
	p.counters[name] = c
}

func (p *PromObs) gauge(name, help string, labels ...string) {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	p.reg.MustRegister(g)
	p.gauges[name] = g
}

func (p *PromObs) histogram(name, help string, buckets []float64, labels ...string) {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	p.reg.MustRegister(h)
	p.histos[name] = h
}

// Registry exposes the registry for /metrics.
func (p *PromObs) Registry() *prometheus.Registry { return p.reg }

func (p *PromObs) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s%s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	log.Printf("CRITICAL: %s: %v%s", msg, err, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64, labels ...string) {
	if c, ok := p.counters[name]; ok {
		if m, err := c.GetMetricWithLabelValues(labels...); err == nil {
			m.Add(v)
		}
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64, labels ...string) {
	if h, ok := p.histos[name]; ok {
		if m, err := h.GetMetricWithLabelValues(labels...); err == nil {
			m.Observe(seconds)
		}
	}
}

func (p *PromObs) SetGauge(name string, v float64, labels ...string) {
	if g, ok := p.gauges[name]; ok {
		if m, err := g.GetMetricWithLabelValues(labels...); err == nil {
			m.Set(v)
		}
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}
