package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/patchtrace/patchtrace/internal/progress"
)

// PrometheusSink exports batch progress metrics. It owns all collectors for
// runs started/completed and per-site resolution counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	linksFound         prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchtrace_runs_started_total",
			Help: "Total batch runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patchtrace_runs_completed_total",
			Help: "Total batch runs completed partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patchtrace_run_duration_seconds",
			Help:    "Wall time per completed batch run.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patchtrace_resolutions_total",
			Help: "URL resolutions partitioned by site and status.",
		}, []string{"site", "status"}),
		resolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patchtrace_resolution_duration_seconds",
			Help:    "Resolution latency partitioned by site and status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"site", "status"}),
		linksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchtrace_download_links_found_total",
			Help: "Download links recovered across all resolutions.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.resolutions,
		s.resolutionDuration,
		s.linksFound,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageURLDone:
		site := evt.Site
		if site == "" {
			site = "unknown"
		}
		s.resolutions.WithLabelValues(site, string(evt.Status)).Inc()
		if evt.Dur > 0 {
			s.resolutionDuration.WithLabelValues(site, string(evt.Status)).Observe(evt.Dur.Seconds())
		}
		if evt.Links > 0 {
			s.linksFound.Add(float64(evt.Links))
		}
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, label string) {
	s.runsCompleted.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
