package hierarchy

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts structural mutations and snapshot cache outcomes per family.
type Metrics struct {
	mutations *prometheus.CounterVec
	snapshots *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors. A nil registerer uses the default
// Prometheus registerer exactly once.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "item_hierarchy_mutations_total",
		Help: "Structural mutations partitioned by family, operation and result.",
	}, []string{"family", "op", "result"})
	snapshots := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "item_hierarchy_snapshot_loads_total",
		Help: "Family snapshot loads partitioned by source.",
	}, []string{"family", "source"})
	registerer.MustRegister(mutations, snapshots)
	return &Metrics{mutations: mutations, snapshots: snapshots}
}

func (m *Metrics) observeMutation(family, op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(family, op, resultLabel(err)).Inc()
}

func (m *Metrics) observeSnapshot(family, source string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(family, source).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	for _, known := range []struct {
		err   error
		label string
	}{
		{ErrNotFound, "not_found"},
		{ErrParentNotFound, "parent_not_found"},
		{ErrHasChildren, "has_children"},
		{ErrCyclicMove, "cyclic_move"},
		{ErrMultipleRoots, "multiple_roots"},
		{ErrValidation, "invalid"},
	} {
		if errors.Is(err, known.err) {
			return known.label
		}
	}
	return "error"
}
