package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	dispatchedOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatched_operations_total",
			Help: "Dispatched operations by name and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	generationTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_ticks_total",
			Help: "Generation loop ticks by result.",
		},
		[]string{"result"},
	)
	generationTickLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_tick_duration_seconds",
			Help:    "End-to-end latency of one generation tick in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	eventsAppended = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_appended_total",
			Help: "Events appended to the durable log by event type.",
		},
		[]string{"event_type"},
	)
	broadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_failures_total",
			Help: "Broadcast publish failures by channel.",
		},
		[]string{"channel"},
	)
	projectedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projected_events_total",
			Help: "Events handled by the projector by event type and mode.",
		},
		[]string{"event_type", "mode"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency, dispatchedOps,
		generationTicks, generationTickLatency,
		eventsAppended, broadcastFailures, projectedEvents,
		kafkaConsumerLag, influxWriteFailures,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncDispatchedOp(operation string, outcome string) {
	dispatchedOps.WithLabelValues(operation, outcome).Inc()
}

func IncGenerationTick(result string) {
	generationTicks.WithLabelValues(result).Inc()
}

func ObserveGenerationTickLatency(d time.Duration) {
	generationTickLatency.Observe(d.Seconds())
}

func IncEventAppended(eventType string) {
	eventsAppended.WithLabelValues(eventType).Inc()
}

func IncBroadcastFailure(channel string) {
	broadcastFailures.WithLabelValues(channel).Inc()
}

func IncProjectedEvent(eventType string, mode string) {
	projectedEvents.WithLabelValues(eventType, mode).Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
