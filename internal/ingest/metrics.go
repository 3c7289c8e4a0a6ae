package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 入库流程的Prometheus指标
type Metrics struct {
	ingestions *prometheus.CounterVec
	chunks     prometheus.Counter
	duration   *prometheus.HistogramVec
}

// NewMetrics 创建并注册入库指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agni",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed by the ingestion pipeline, by result status and failure kind.",
		}, []string{"status", "kind"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agni",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks embedded and upserted into the vector store.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agni",
			Subsystem: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each ingestion stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.ingestions, m.chunks, m.duration)
	}
	return m
}

func (m *Metrics) observeResult(status Status, kind Kind, chunks int) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(string(status), string(kind)).Inc()
	m.chunks.Add(float64(chunks))
}

func (m *Metrics) observeStage(stage State, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(string(stage)).Observe(seconds)
}
