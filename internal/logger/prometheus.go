package logger

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// LogStatementsMetric counts log statements by level.
const LogStatementsMetric = "authsession_log_statements_total"

// PrometheusHook is a zerolog.Hook feeding LogStatementsMetric.
type PrometheusHook struct {
	statements *prometheus.CounterVec
}

// NewPrometheusHook registers the counter for service with reg. Calling it
// again with the same registry and service shares the registered counter.
func NewPrometheusHook(reg prometheus.Registerer, service string) (*PrometheusHook, error) {
	statements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        LogStatementsMetric,
		Help:        "Log statements by level.",
		ConstLabels: prometheus.Labels{"service": service},
	}, []string{"level"})

	if err := reg.Register(statements); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, errors.Wrap(err, "registering log statement counter")
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, errors.Wrap(err, "registering log statement counter")
		}
		statements = existing
	}

	return &PrometheusHook{statements: statements}, nil
}

// Run implements zerolog.Hook.
func (h *PrometheusHook) Run(_ *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}
	h.statements.WithLabelValues(level.String()).Inc()
}
