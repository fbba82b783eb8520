package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/missatjuhvdk1/snapbot/internal/events"
)

// PrometheusSink exports job lifecycle metrics via Prometheus. It owns the
// collectors for terminal jobs, deferrals and pool errors.
type PrometheusSink struct {
	jobsFinished *prometheus.CounterVec
	jobRuntime   *prometheus.HistogramVec
	jobsDeferred prometheus.Counter
	poolErrors   prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapbot_jobs_finished_total",
			Help: "Terminal jobs partitioned by result.",
		}, []string{"result"}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapbot_job_runtime_seconds",
			Help:    "Wall time from enqueue to terminal state.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		jobsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapbot_jobs_deferred_total",
			Help: "Jobs put back on the queue due to account collisions or rate gating.",
		}),
		poolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapbot_pool_errors_total",
			Help: "Pool-level errors outside any single job.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsFinished,
		s.jobRuntime,
		s.jobsDeferred,
		s.poolErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors for the event. It is safe for
// concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, evt events.Event) error {
	switch evt.Stage {
	case events.StageCompleted:
		s.jobsFinished.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case events.StageFailed:
		s.jobsFinished.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case events.StageDeferred:
		s.jobsDeferred.Inc()
	case events.StagePoolError:
		s.poolErrors.Inc()
	}
	return nil
}

func (s *PrometheusSink) observeRuntime(evt events.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
