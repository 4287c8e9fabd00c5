package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler serves the counters in Prometheus text exposition format.
// Mount it at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			// HTTP
			{"wabridge_http_requests_total", "Total HTTP requests served", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"wabridge_http_requests_failed_total", "HTTP requests answered with a 5xx status", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			// Inbound pipeline
			{"wabridge_webhooks_received_total", "Webhook deliveries received", "counter", atomic.LoadUint64(&m.metrics.WebhooksReceived)},
			{"wabridge_messages_ingested_total", "Messages persisted from webhooks", "counter", atomic.LoadUint64(&m.metrics.MessagesIngested)},
			{"wabridge_duplicates_absorbed_total", "Redelivered or echoed messages absorbed as no-ops", "counter", atomic.LoadUint64(&m.metrics.DuplicatesAbsorbed)},
			{"wabridge_adaptation_skips_total", "Webhook payloads skipped by the adapter", "counter", atomic.LoadUint64(&m.metrics.AdaptationSkips)},
			{"wabridge_media_failures_total", "Inbound messages dropped because media could not be materialized", "counter", atomic.LoadUint64(&m.metrics.MediaFailures)},
			{"wabridge_transcode_fallbacks_total", "Transcodes that fell back to the original file", "counter", atomic.LoadUint64(&m.metrics.TranscodeFallbacks)},

			// Outbound pipeline
			{"wabridge_dispatch_success_total", "Outbound sends accepted by the gateway", "counter", atomic.LoadUint64(&m.metrics.DispatchSuccess)},
			{"wabridge_dispatch_failed_total", "Outbound sends rejected or failed", "counter", atomic.LoadUint64(&m.metrics.DispatchFailed)},

			// Gauges
			{"wabridge_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			// Runtime metrics
			{"wabridge_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"wabridge_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"wabridge_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		if n := atomic.LoadUint64(&m.metrics.DispatchLatencyCount); n > 0 {
			fmt.Fprintf(w, "# HELP wabridge_dispatch_latency_avg_ms Average outbound dispatch latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE wabridge_dispatch_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "wabridge_dispatch_latency_avg_ms %f\n\n", avgMs(&m.metrics.DispatchLatencySum, &m.metrics.DispatchLatencyCount))
		}
		if n := atomic.LoadUint64(&m.metrics.RequestLatencyCount); n > 0 {
			fmt.Fprintf(w, "# HELP wabridge_http_latency_avg_ms Average HTTP request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE wabridge_http_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "wabridge_http_latency_avg_ms %f\n\n", avgMs(&m.metrics.RequestLatencySum, &m.metrics.RequestLatencyCount))
		}
	})
}
