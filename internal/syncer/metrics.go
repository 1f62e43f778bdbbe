package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ledgerSync/internal/model"
)

const metricsNamespace = "ledgersync"

var sourceLabels = []string{"source_type", "source_address"}

// Metrics holds the sync engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	eventsStored    *prometheus.CounterVec
	entriesSkipped  *prometheus.CounterVec
	fetchRetries    *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	runs            *prometheus.CounterVec
	highSkipWindows *prometheus.CounterVec
	lastProcessed   *prometheus.GaugeVec
	chainHead       *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventsStored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_stored_total",
			Help:      "Decoded events persisted",
		}, sourceLabels),
		entriesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entries_skipped_total",
			Help:      "Raw log entries skipped, by stage",
		}, append(append([]string{}, sourceLabels...), "stage")),
		fetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_retries_total",
			Help:      "Retried log source calls",
		}, append(append([]string{}, sourceLabels...), "op")),
		fetchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_failures_total",
			Help:      "Log source calls that exhausted their retries",
		}, append(append([]string{}, sourceLabels...), "op")),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Sync runs by resulting status",
		}, append(append([]string{}, sourceLabels...), "result")),
		highSkipWindows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "high_skip_windows_total",
			Help:      "Windows whose skip ratio reached the warning threshold",
		}, sourceLabels),
		lastProcessed: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_processed_block",
			Help:      "Cursor position per source",
		}, sourceLabels),
		chainHead: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "chain_head_block",
			Help:      "Chain height observed by the last run",
		}, sourceLabels),
	}
}

func (m *Metrics) eventStored(key model.SourceKey, n int) {
	if m == nil || n == 0 {
		return
	}
	m.eventsStored.WithLabelValues(key.Type, key.Address).Add(float64(n))
}

func (m *Metrics) entrySkipped(key model.SourceKey, stage string) {
	if m == nil {
		return
	}
	m.entriesSkipped.WithLabelValues(key.Type, key.Address, stage).Inc()
}

func (m *Metrics) fetchRetried(key model.SourceKey, op string) {
	if m == nil {
		return
	}
	m.fetchRetries.WithLabelValues(key.Type, key.Address, op).Inc()
}

func (m *Metrics) fetchFailed(key model.SourceKey, op string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(key.Type, key.Address, op).Inc()
}

func (m *Metrics) runFinished(key model.SourceKey, status model.SyncStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(key.Type, key.Address, string(status)).Inc()
}

func (m *Metrics) highSkipWindow(key model.SourceKey) {
	if m == nil {
		return
	}
	m.highSkipWindows.WithLabelValues(key.Type, key.Address).Inc()
}

func (m *Metrics) cursorMoved(key model.SourceKey, block uint64) {
	if m == nil {
		return
	}
	m.lastProcessed.WithLabelValues(key.Type, key.Address).Set(float64(block))
}

func (m *Metrics) headObserved(key model.SourceKey, head uint64) {
	if m == nil {
		return
	}
	m.chainHead.WithLabelValues(key.Type, key.Address).Set(float64(head))
}
