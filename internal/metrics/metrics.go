package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camreview_events_received_total",
		Help: "Total number of timeline events received, labelled by origin.",
	}, []string{"origin"})

	EventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camreview_events_accepted_total",
		Help: "Total number of events merged into the hourly timeline.",
	})

	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camreview_events_duplicate_total",
		Help: "Total number of events dropped as duplicates during merge.",
	})

	EventsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camreview_events_evicted_total",
		Help: "Total number of events evicted from the live timeline past retention.",
	})

	EventsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camreview_events_invalid_total",
		Help: "Total number of malformed events rejected before merge.",
	})

	BatchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camreview_batches_dropped_total",
		Help: "Total number of ingest batches rejected due to a full queue.",
	})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "camreview_ingest_duration_ms",
		Help:    "Time to validate, merge and persist one batch, in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	CardsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camreview_cards_built_total",
		Help: "Total number of review cards derived.",
	})

	PreviewResolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camreview_preview_resolves_total",
		Help: "Preview clip lookups, labelled by result (hit|miss).",
	}, []string{"result"})

	TimelineHours = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camreview_timeline_hours",
		Help: "Number of hour buckets in the live timeline.",
	})

	TimelineEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camreview_timeline_events",
		Help: "Number of events in the live timeline.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camreview_queue_utilization_ratio",
		Help: "Current ingest queue utilization (0–1).",
	})
)
