package metrics

import (
	"QuantSync/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quantsync"

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	decisions     *prometheus.CounterVec
	conflicts     *prometheus.CounterVec
	confidence    *prometheus.HistogramVec
	positions     *prometheus.CounterVec
	syncRecords   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	phase         prometheus.Gauge
	entryTrades   prometheus.Gauge
	markovSamples *prometheus.GaugeVec
}

// New registers the recorder on the default registry.
func New() *Recorder { return NewWithRegisterer(prometheus.DefaultRegisterer) }

// NewWithRegisterer registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decisions_total",
			Help: "Fused decisions by final action",
		}, []string{"symbol", "action"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decision_conflicts_total",
			Help: "Decisions where an input contradicted the technical signal",
		}, []string{"symbol"}),
		confidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "decision_confidence",
			Help:    "Combined confidence of fused decisions",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"symbol"}),
		positions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "position_events_total",
			Help: "Ledger events (opened, closed, rejected)",
		}, []string{"symbol", "event"}),
		syncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_records_total",
			Help: "Consolidation records by outcome",
		}, []string{"result"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "phase",
			Help: "Current learning phase (0-4)",
		}),
		entryTrades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "entry_trades",
			Help: "Cumulative completed entry trades",
		}),
		markovSamples: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "markov_samples",
			Help: "Observed regime transitions per symbol",
		}, []string{"symbol"}),
	}
}

func (r *Recorder) RecordDecision(symbol string, action models.Action, conflict bool, confidence float64) {
	r.decisions.WithLabelValues(symbol, string(action)).Inc()
	if conflict {
		r.conflicts.WithLabelValues(symbol).Inc()
	}
	r.confidence.WithLabelValues(symbol).Observe(confidence)
}

func (r *Recorder) RecordPosition(symbol, event string) {
	r.positions.WithLabelValues(symbol, event).Inc()
}

func (r *Recorder) RecordSync(synced, failed int) {
	r.syncRecords.WithLabelValues("synced").Add(float64(synced))
	r.syncRecords.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) RecordPhase(phase, trades int) {
	r.phase.Set(float64(phase))
	r.entryTrades.Set(float64(trades))
}

func (r *Recorder) RecordMarkovSamples(symbol string, n int) {
	r.markovSamples.WithLabelValues(symbol).Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything; used in tests and tools.
type Nop struct{}

func (Nop) RecordDecision(string, models.Action, bool, float64) {}
func (Nop) RecordPosition(string, string)                       {}
func (Nop) RecordSync(int, int)                                 {}
func (Nop) RecordPhase(int, int)                                {}
func (Nop) RecordMarkovSamples(string, int)                     {}
func (Nop) RecordError(string)                                  {}
func (Nop) RecordLatency(string, float64)                       {}
