package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interview",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "interview",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "path", "status"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "interview",
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	}, []string{"service"})
)

// Session-level collectors, updated by the hub and room code paths.
var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "interview",
		Name:      "active_rooms",
		Help:      "Rooms currently holding at least one participant",
	})

	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "interview",
		Name:      "active_participants",
		Help:      "Participants currently registered across all rooms",
	})

	OperationsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interview",
		Name:      "operations_applied_total",
		Help:      "Document operations accepted and applied",
	})

	OperationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interview",
		Name:      "operations_rejected_total",
		Help:      "Document operations rejected, by error code",
	}, []string{"reason"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interview",
		Name:      "chat_messages_total",
		Help:      "Chat messages relayed",
	})

	SignalsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interview",
		Name:      "signals_relayed_total",
		Help:      "Signaling envelopes forwarded to their target",
	})

	SignalsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "interview",
		Name:      "signals_dropped_total",
		Help:      "Signaling envelopes dropped because the target was absent",
	})
)

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack must pass through so the websocket upgrade keeps working behind the
// metrics middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request metrics with Prometheus labels.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.WithLabelValues(service).Inc()
			defer httpInFlight.WithLabelValues(service).Dec()

			next.ServeHTTP(rec, r)

			labels := prometheus.Labels{
				"service": service,
				"method":  r.Method,
				"path":    r.URL.Path,
				"status":  strconv.Itoa(rec.status),
			}
			httpRequests.With(labels).Inc()
			httpLatency.With(labels).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
