package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the session service metrics.
type Registry struct {
	SweepTransitionsTotal *prometheus.CounterVec
	SweepFailuresTotal    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	return &Registry{
		SweepTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_sweep_transitions_total",
				Help: "Sessions transitioned by janitor sweeps",
			},
			[]string{"sweep"},
		),
		SweepFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_sweep_failures_total",
				Help: "Per-row failures during janitor sweeps",
			},
			[]string{"sweep"},
		),
	}
}

func (r *Registry) Register(reg prometheus.Registerer) {
	reg.MustRegister(r.SweepTransitionsTotal, r.SweepFailuresTotal)
}
