package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by the pipeline, the commit coordinator and the gateway.
const (
	ViewRaw   = "raw"
	ViewTable = "table"

	StatusProcessed = "processed"
	StatusSkipped   = "skipped"

	ResultHit      = "hit"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds all streamview Prometheus metrics.
type Metrics struct {
	RecordsTotal      *prometheus.CounterVec
	MaterializeErrors *prometheus.CounterVec
	MissingKeyTotal   prometheus.Counter
	DecodeErrors      prometheus.Counter
	CommitsTotal      *prometheus.CounterVec
	CommitCursor      *prometheus.GaugeVec
	LookupsTotal      *prometheus.CounterVec
	DLQTotal          prometheus.Counter
	ApplyDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all streamview metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamview_records_total",
			Help: "Records consumed, by outcome.",
		}, []string{"status"}),

		MaterializeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamview_materialize_errors_total",
			Help: "Records a view failed to apply.",
		}, []string{"view"}),

		MissingKeyTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamview_missing_key_total",
			Help: "Records rejected for having no key.",
		}),

		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamview_decode_errors_total",
			Help: "Record values the table view could not decode.",
		}),

		CommitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamview_commits_total",
			Help: "Offset commits by mode and result.",
		}, []string{"mode", "result"}),

		CommitCursor: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamview_commit_cursor",
			Help: "Highest record offset acknowledged per partition.",
		}, []string{"partition"}),

		LookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamview_lookups_total",
			Help: "Point lookups served, by view and result.",
		}, []string{"view", "result"}),

		DLQTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamview_dlq_total",
			Help: "Records sent to the dead-letter topic.",
		}),

		ApplyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamview_apply_duration_seconds",
			Help:    "Time to apply one record to a view.",
			Buckets: prometheus.DefBuckets,
		}, []string{"view"}),
	}
}
