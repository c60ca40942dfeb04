package kestrel

import (
	kitmetrics "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// Counters is the process-wide observability surface (spec.md §9's
// "global counters" design note): rather than module-level state, a
// Counters implementation is injected into each JobScheduler so
// schedulers stay testable in isolation.
type Counters struct {
	Success   kitmetrics.Counter
	Blackhole kitmetrics.Counter
	Rejected  kitmetrics.Counter
	Error     kitmetrics.Counter
}

// NewNopCounters returns a Counters that discards every observation,
// suitable for tests.
func NewNopCounters() Counters {
	return Counters{
		Success:   discardCounter{},
		Blackhole: discardCounter{},
		Rejected:  discardCounter{},
		Error:     discardCounter{},
	}
}

// NewPrometheusCounters wires up four Prometheus counters under namespace
// and subsystem, named the way the teacher wires its queue length gauge
// in doc.go / example_metrics_test.go (Namespace/Subsystem/Name, labeled
// by priority and queue).
func NewPrometheusCounters(namespace, subsystem string) Counters {
	labels := []string{"priority", "queue"}
	mk := func(name, help string) kitmetrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	return Counters{
		Success:   mk("job_success_total", "Number of jobs that completed successfully."),
		Blackhole: mk("job_blackhole_total", "Number of jobs dropped as blackholed."),
		Rejected:  mk("job_rejected_total", "Number of jobs re-queued as transiently rejected."),
		Error:     mk("job_error_total", "Number of jobs that failed with an ordinary error."),
	}
}

// NewPrometheusGauge wires up the queue-length gauge the way the teacher
// documents in doc.go, labeled by priority and channel (waiting/delayed).
func NewPrometheusGauge(namespace, subsystem string) kitmetrics.Gauge {
	return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "queue_length",
		Help:      "The length of each kestrel queue.",
	}, []string{"priority", "channel"})
}

type discardCounter struct{}

func (discardCounter) With(...string) kitmetrics.Counter { return discardCounter{} }
func (discardCounter) Add(delta float64)                 {}
