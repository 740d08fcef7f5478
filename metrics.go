package authsession

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Verification outcomes recorded by authsession_verifications_total.
const (
	outcomeAuthenticated = "authenticated"
	outcomeAnonymous     = "anonymous"
	outcomeRejected      = "rejected"
	outcomeSuperseded    = "superseded"
)

type metrics struct {
	verifications   *prometheus.CounterVec
	initializations *prometheus.CounterVec
	broadcasts      prometheus.Counter
	subscribers     prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_verifications_total",
			Help: "Restore-and-verify attempts by outcome.",
		}, []string{"outcome"}),
		initializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authsession_initializations_total",
			Help: "Initialize calls, split into started, joined (in flight) and cached (already settled).",
		}, []string{"mode"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authsession_broadcasts_total",
			Help: "Session state broadcasts.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authsession_subscribers",
			Help: "Currently registered session subscribers.",
		}),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.verifications, m.initializations, m.broadcasts, m.subscribers}
}

// RegisterMetrics registers the manager's collectors with reg.
// Registering the same manager twice is not an error.
func (m *Manager) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range m.metrics.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
