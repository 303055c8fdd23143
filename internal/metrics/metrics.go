package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay_monitor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "overlay_monitor",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Poller metrics ─────────────────────────────────────────────────────

var (
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "poll",
		Name:      "total",
		Help:      "Total number of poll steps per poller.",
	}, []string{"poller", "step", "status"})

	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "overlay_monitor",
		Subsystem: "poll",
		Name:      "duration_seconds",
		Help:      "Duration of one poll step per poller in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"poller"})

	PollLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlay_monitor",
		Subsystem: "poll",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful poll step per poller.",
	}, []string{"poller"})

	PollerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlay_monitor",
		Subsystem: "poll",
		Name:      "state",
		Help:      "Current poller state (0 starting, 1 running, 2 degraded, 3 stopped).",
	}, []string{"poller"})

	PollerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "poll",
		Name:      "failures_total",
		Help:      "Total poller failures reported to the supervisor.",
	}, []string{"poller"})
)

// ── Ingestion metrics ──────────────────────────────────────────────────

var (
	WatermarkLower = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlay_monitor",
		Subsystem: "watermark",
		Name:      "lower_timestamp",
		Help:      "Lower bound of the incremental fetch window.",
	}, []string{"poller"})

	WatermarkUpper = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlay_monitor",
		Subsystem: "watermark",
		Name:      "upper_timestamp",
		Help:      "Upper bound of the incremental fetch window.",
	}, []string{"poller"})

	RecordsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "indexer",
		Name:      "records_total",
		Help:      "Total records fetched from the indexer per feed.",
	}, []string{"feed"})

	IndexerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "indexer",
		Name:      "requests_total",
		Help:      "Total indexer page requests per feed.",
	}, []string{"feed", "status"})
)

// ── Value resolution metrics ───────────────────────────────────────────

var (
	ResolveAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "resolve",
		Name:      "attempts_total",
		Help:      "Total position value resolution attempts by outcome.",
	}, []string{"status"})

	ResolveDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "resolve",
		Name:      "dropped_total",
		Help:      "Positions dropped after exhausting their retry budget.",
	})

	ResolveBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "overlay_monitor",
		Subsystem: "resolve",
		Name:      "batch_duration_seconds",
		Help:      "Duration of one ledger batch round-trip in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

// ── Alert delivery metrics ─────────────────────────────────────────────

var (
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts successfully delivered.",
	}, []string{"rule", "level"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alert delivery failures.",
	}, []string{"rule", "level"})

	AlertsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "alerts",
		Name:      "deduplicated_total",
		Help:      "Total alerts suppressed by the cooldown.",
	}, []string{"rule", "level"})

	AlertCooldownErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "alerts",
		Name:      "cooldown_errors_total",
		Help:      "Total cooldown lookups that failed; the alert was sent regardless.",
	})

	AlertEvalErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlay_monitor",
		Subsystem: "alerts",
		Name:      "evaluation_errors_total",
		Help:      "Total rule evaluations skipped because of an error.",
	}, []string{"rule"})
)
