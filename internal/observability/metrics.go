package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Queries          *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	SearchLatency    prometheus.Histogram
	SynthesisLatency prometheus.Histogram
	SynthesisErrors  *prometheus.CounterVec
	DegradedAnswers  prometheus.Counter
	StoredMessages   prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	SessionExpiries  prometheus.Counter
	IngestMessages   *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Queries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries by outcome.",
		}, []string{"outcome"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Answer cache lookups by result.",
		}, []string{"result"}),
		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_ms",
			Help:      "Keyword retrieval latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Model synthesis latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 6000, 8000, 12000},
		}),
		SynthesisErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_errors_total",
			Help:      "Synthesis failures by provider.",
		}, []string{"provider"}),
		DegradedAnswers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_answers_total",
			Help:      "Answers served from raw matches after synthesis failure.",
		}),
		StoredMessages: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_messages",
			Help:      "Messages currently held in the store.",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Unexpired conversation sessions.",
		}),
		SessionExpiries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_expiries_total",
			Help:      "Conversation sessions dropped by expiry.",
		}),
		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Ingested messages by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveSearchLatency(d time.Duration) {
	m.SearchLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
