// Package metrics exports Prometheus instruments for the pipeline's
// queue depth, drop counters, and translation latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translation_queue_depth",
		Help: "Jobs currently queued by priority",
	}, []string{"priority"})

	QueueActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "translation_queue_active",
		Help: "Jobs currently dispatched to the LLM adapter",
	})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translation_jobs_total",
		Help: "Total translation jobs by outcome",
	}, []string{"outcome"})

	TranslationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "translation_duration_seconds",
		Help:    "Translation job latency from dispatch to completion",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 7, 10},
	}, []string{"kind"})

	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_dropped_total",
		Help: "Events dropped by the bus under subscriber backpressure",
	}, []string{"kind"})

	AudioFramesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_audio_frames_dropped_total",
		Help: "Audio frames dropped due to a full ASR send buffer",
	})

	AsrReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_reconnects_total",
		Help: "ASR transport reconnection attempts",
	})

	CumulativeWords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "summarizer_cumulative_words",
		Help: "Running cumulative source word count for the active session",
	})

	PipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_state",
		Help: "1 for the pipeline's current lifecycle state, 0 otherwise",
	}, []string{"state"})
)
