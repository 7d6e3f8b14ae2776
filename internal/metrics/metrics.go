package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spreadscope"

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	IngestEvents       *prometheus.CounterVec
	RegistryPools      prometheus.Gauge
	DetectorCandidates *prometheus.CounterVec
	ExecutionAttempts  *prometheus.CounterVec
	ExecutionInflight  prometheus.Gauge
	FeedReconnects     prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_events_total",
			Help:      "Pool logs handled by the ingestor, by result.",
		}, []string{"result"}),
		RegistryPools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_pools",
			Help:      "Pools currently tracked by the registry.",
		}),
		DetectorCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_candidates_total",
			Help:      "Evaluated pool routes, by outcome.",
		}, []string{"outcome"}),
		ExecutionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_attempts_total",
			Help:      "Execution attempt transitions, by status.",
		}, []string{"status"}),
		ExecutionInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "execution_inflight",
			Help:      "Attempts currently holding a pair lease.",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Log feed resubscriptions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.IngestEvents,
			m.RegistryPools,
			m.DetectorCandidates,
			m.ExecutionAttempts,
			m.ExecutionInflight,
			m.FeedReconnects,
		)
	}
	return m
}

func (m *Metrics) IngestEvent(result string) {
	if m == nil {
		return
	}
	m.IngestEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) SetRegistryPools(n int) {
	if m == nil {
		return
	}
	m.RegistryPools.Set(float64(n))
}

func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.DetectorCandidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Attempt(status string) {
	if m == nil {
		return
	}
	m.ExecutionAttempts.WithLabelValues(status).Inc()
}

func (m *Metrics) InflightDelta(delta int) {
	if m == nil {
		return
	}
	m.ExecutionInflight.Add(float64(delta))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}
