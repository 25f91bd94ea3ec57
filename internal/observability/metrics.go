package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the service exports. Components
// accept a nil *Metrics and skip recording.
type Metrics struct {
	// --- Award ---
	AwardsTotal    *prometheus.CounterVec
	AwardLegs      prometheus.Histogram
	QuoteSubmitted *prometheus.CounterVec

	// --- Settlement ---
	SettlementLegTransitions *prometheus.CounterVec
	SettlementEscalations    *prometheus.CounterVec
	DeadlineSweepDuration    prometheus.Histogram
	DeadlineSweepChanged     prometheus.Counter

	// --- Partial fill ---
	PartialFillOps *prometheus.CounterVec

	// --- Dispute ---
	DisputeTransitions *prometheus.CounterVec
	SLABreaches        *prometheus.CounterVec

	// --- Event log & audit ---
	EventLogAppends *prometheus.CounterVec
	EventLogErrors  *prometheus.CounterVec
	AuditDegraded   *prometheus.CounterVec
	ExportErrors    *prometheus.CounterVec
	FanoutDrops     *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Mirror & publish ---
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistEventsWritten prometheus.Counter
	PersistErrors        *prometheus.CounterVec
	PublishedEvents      prometheus.Counter
	PublishErrors        prometheus.Counter

	// --- HTTP ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		AwardsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_awards_total",
			Help: "Auto-award attempts by outcome",
		}, []string{"outcome"}),

		AwardLegs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdt_award_legs",
			Help:    "Winning legs per award",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),

		QuoteSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_quote_submissions_total",
			Help: "Quote submissions by outcome",
		}, []string{"outcome"}),

		SettlementLegTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_settlement_leg_transitions_total",
			Help: "Settlement leg transitions by target status",
		}, []string{"status"}),

		SettlementEscalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_settlement_escalations_total",
			Help: "Settlement legs escalated by reason",
		}, []string{"reason"}),

		DeadlineSweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdt_settlement_deadline_sweep_seconds",
			Help:    "Duration of a settlement deadline sweep",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),

		DeadlineSweepChanged: f.NewCounter(prometheus.CounterOpts{
			Name: "usdt_settlement_deadline_sweep_changed_total",
			Help: "Settlements changed by deadline sweeps",
		}),

		PartialFillOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_partial_fill_operations_total",
			Help: "Partial-fill operations by kind",
		}, []string{"op"}),

		DisputeTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_dispute_transitions_total",
			Help: "Dispute transitions by target status",
		}, []string{"status"}),

		SLABreaches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_sla_breaches_total",
			Help: "Operations refused because an SLA deadline passed",
		}, []string{"check"}),

		EventLogAppends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_event_log_appends_total",
			Help: "Lines appended per log domain",
		}, []string{"domain"}),

		EventLogErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_event_log_errors_total",
			Help: "Failed appends per log domain",
		}, []string{"domain"}),

		AuditDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_audit_degraded_total",
			Help: "Committed operations whose audit record could not be written",
		}, []string{"domain"}),

		ExportErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_export_errors_total",
			Help: "Failed workbook exports",
		}, []string{"export"}),

		FanoutDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_fanout_drops_total",
			Help: "Events dropped due to a full sink channel",
		}, []string{"sink"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "usdt_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "usdt_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "usdt_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdt_mirror_batch_duration_seconds",
			Help:    "Postgres mirror batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "usdt_mirror_batch_size",
			Help:    "Events per mirror batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "usdt_mirror_events_written_total",
			Help: "Events written to the Postgres mirror",
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_mirror_errors_total",
			Help: "Postgres mirror errors",
		}, []string{"error_type"}),

		PublishedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "usdt_published_events_total",
			Help: "Events published to NATS",
		}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "usdt_publish_errors_total",
			Help: "Failed NATS publishes",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "usdt_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usdt_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"route"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	if m == nil {
		return
	}
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
