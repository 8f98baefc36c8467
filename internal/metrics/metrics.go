// Package metrics provides Prometheus metrics for the recording pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meetscribe"

// Metrics holds every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsStarted *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec

	// Ingestion metrics
	ChunksReceived       prometheus.Counter
	AudioBytesReceived   prometheus.Counter
	ChunksSkipped        *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec

	// Finalization metrics
	Fallbacks            *prometheus.CounterVec
	FinalizationDuration prometheus.Histogram
	PersistenceErrors    *prometheus.CounterVec

	// Transport metrics
	ConnectionsActive prometheus.Gauge
	CommandsRejected  *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recording sessions started",
		}, []string{"mode"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently held in the registry",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions reaching a terminal state",
		}, []string{"status"}),

		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total number of audio chunks accepted for ingestion",
		}),
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total decoded audio bytes accepted for ingestion",
		}),
		ChunksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_skipped_total",
			Help:      "Total number of chunks that produced no partial transcript",
		}, []string{"reason"}),
		TranscriptionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "Transcription adapter latency per chunk",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"adapter"}),

		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of deterministic fallback activations",
		}, []string{"stage"}),
		FinalizationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalization_duration_seconds",
			Help:      "Time from stop to completion event",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		PersistenceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Total number of failed store calls",
		}, []string{"operation"}),

		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open websocket connections",
		}),
		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Total number of client commands rejected",
		}, []string{"code"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

func (m *Metrics) RecordSessionStart(mode string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(mode).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd counts a terminal status. It does not touch the active
// gauge; see RecordSessionRemoved.
func (m *Metrics) RecordSessionEnd(status string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSessionRemoved() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) RecordChunk(bytes int) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

func (m *Metrics) RecordChunkSkipped(reason string) {
	if m == nil {
		return
	}
	m.ChunksSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordTranscription(adapter string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionLatency.WithLabelValues(adapter).Observe(latencySeconds)
}

func (m *Metrics) RecordFallback(stage string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordFinalization(seconds float64) {
	if m == nil {
		return
	}
	m.FinalizationDuration.Observe(seconds)
}

func (m *Metrics) RecordPersistenceError(operation string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordConnection(delta float64) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Add(delta)
}

func (m *Metrics) RecordRejected(code string) {
	if m == nil {
		return
	}
	m.CommandsRejected.WithLabelValues(code).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
