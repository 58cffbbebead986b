package observability

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eldaeon/sensorhub/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	obs := NewPromObs(prometheus.NewRegistry())

	obs.IncCounter("sensorhub_samples_written_total", 5, "cpm_h")
	if got := testutil.ToFloat64(obs.counters["sensorhub_samples_written_total"].WithLabelValues("cpm_h")); got != 5 {
		t.Fatalf("expected samples counter 5, got %f", got)
	}

	obs.IncCounter("sensorhub_export_dropped_total", 2, "drop_oldest")
	if got := testutil.ToFloat64(obs.counters["sensorhub_export_dropped_total"].WithLabelValues("drop_oldest")); got != 2 {
		t.Fatalf("expected drop counter 2, got %f", got)
	}

	obs.SetGauge("sensorhub_device_degraded", 1, "geiger")
	if got := testutil.ToFloat64(obs.gauges["sensorhub_device_degraded"].WithLabelValues("geiger")); got != 1 {
		t.Fatalf("expected degraded gauge 1, got %f", got)
	}

	obs.ObserveLatency("sensorhub_sink_latency_seconds", 0.5, "timescale")
	if samples := testutil.CollectAndCount(obs.histos["sensorhub_sink_latency_seconds"]); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 series, got %d", samples)
	}
}

func TestPromObsIgnoresUnknownAndBadLabels(t *testing.T) {
	obs := NewPromObs(nil)

	obs.IncCounter("no_such_metric", 1)
	obs.IncCounter("sensorhub_poll_errors_total", 1, "only-one-label")
	if n := testutil.CollectAndCount(obs.counters["sensorhub_poll_errors_total"]); n != 0 {
		t.Fatalf("label mismatch must not create a series, got %d", n)
	}
}

func TestLogLinesCarryFields(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	obs := NewPromObs(nil)
	obs.LogError("poll_failed", errors.New("timeout"), ports.Field{Key: "device", Value: "geiger"})

	line := buf.String()
	if !strings.Contains(line, "ERROR: poll_failed: timeout device=geiger") {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestMiddlewareCountsRoutes(t *testing.T) {
	obs := NewPromObs(nil)
	h := Middleware(obs, func(*http.Request) string { return "/current" })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/current", nil))

	if got := testutil.ToFloat64(obs.counters["sensorhub_http_requests_total"].WithLabelValues("/current", "404")); got != 1 {
		t.Fatalf("expected one 404 on /current, got %f", got)
	}
}

func TestSetupLoggingWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensorhub.log")
	closer := SetupLogging(LogConfig{File: path})

	log.Printf("INFO: hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "INFO: hello") {
		t.Fatalf("log file missing line: %q", data)
	}
}
