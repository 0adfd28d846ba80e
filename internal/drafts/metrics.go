package drafts

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the coordinator's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	created          prometheus.Counter
	recovered        prometheus.Counter
	creationFailures prometheus.Counter
	published        *prometheus.CounterVec
	abandoned        prometheus.Counter
	cleanupFailures  prometheus.Counter
	records          prometheus.Gauge
	activeIDs        prometheus.Gauge
}

// Publish outcomes used as the "result" label.
const (
	publishOK          = "ok"
	publishRotateError = "rotate_failed"
	publishSyncError   = "sync_failed"
)

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drafts_created_total",
			Help: "Drafts persisted fresh through the content store",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drafts_recovered_total",
			Help: "Drafts resumed from a previously persisted, unpublished item",
		}),
		creationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drafts_creation_failures_total",
			Help: "Create calls rejected by the content store",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drafts_published_total",
			Help: "Publish attempts by outcome",
		}, []string{"result"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drafts_abandoned_total",
			Help: "Drafts abandoned by the view layer",
		}),
		cleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drafts_cleanup_failures_total",
			Help: "Best-effort removals that failed",
		}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drafts_records",
			Help: "Live draft records",
		}),
		activeIDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drafts_active_ids",
			Help: "Ids in the externally visible active set",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.recovered, m.creationFailures, m.published,
			m.abandoned, m.cleanupFailures, m.records, m.activeIDs)
	}
	return m
}

func (m *Metrics) incCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *Metrics) incRecovered() {
	if m != nil {
		m.recovered.Inc()
	}
}

func (m *Metrics) incCreationFailure() {
	if m != nil {
		m.creationFailures.Inc()
	}
}

func (m *Metrics) incPublished(result string) {
	if m != nil {
		m.published.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incAbandoned() {
	if m != nil {
		m.abandoned.Inc()
	}
}

func (m *Metrics) incCleanupFailure() {
	if m != nil {
		m.cleanupFailures.Inc()
	}
}

func (m *Metrics) setSizes(records, active int) {
	if m != nil {
		m.records.Set(float64(records))
		m.activeIDs.Set(float64(active))
	}
}
