package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream outcome labels.
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeModelFail = "model_error"
	outcomeStoreFail = "store_error"
)

var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "chat",
		Name:      "streams_total",
		Help:      "Chat streams by mode (text/multimodal) and outcome.",
	}, []string{"mode", "outcome"})

	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Subsystem: "chat",
		Name:      "chunks_total",
		Help:      "Text chunks emitted to consumers.",
	})

	streamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "loom",
		Subsystem: "chat",
		Name:      "stream_duration_seconds",
		Help:      "Wall time from provider call start to stream end.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
