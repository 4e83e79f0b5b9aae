package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/dago-testrun/pkg/domain"
	"github.com/aescanero/dago-testrun/pkg/ports"
)

// Collector records test run metrics and implements ports.Reporter
type Collector struct {
	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	resultEvents  *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	pollTicks     prometheus.Counter
	sessions      prometheus.Gauge
	sessionStates *prometheus.GaugeVec

	eventsPublished *prometheus.CounterVec
	publishFailures prometheus.Counter
}

// NewCollector creates a collector registered on reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testrun_runs_started_total",
				Help: "Total number of test runs attempted",
			},
			[]string{"type"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testrun_runs_finished_total",
				Help: "Total number of test runs finished",
			},
			[]string{"type", "result"},
		),
		resultEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testrun_result_events_total",
				Help: "Total number of classified flow run outcomes",
			},
			[]string{"action", "result", "err_type"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testrun_run_duration_seconds",
				Help:    "Test run duration from launch to terminal state",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		),
		pollTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testrun_poll_ticks_total",
				Help: "Total number of merged status polls",
			},
		),
		sessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "testrun_sessions",
				Help: "Number of open workflow sessions",
			},
		),
		sessionStates: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "testrun_sessions_by_state",
				Help: "Number of open sessions per run state",
			},
			[]string{"state"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testrun_events_published_total",
				Help: "Total number of events published on the bus",
			},
			[]string{"type"},
		),
		publishFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "testrun_event_publish_failures_total",
				Help: "Total number of events the bus rejected",
			},
		),
	}
}

// TryStart counts a run attempt
func (c *Collector) TryStart(scene domain.TestRunType) {
	c.runsStarted.WithLabelValues(string(scene)).Inc()
}

// RunEnd counts a finished run routine
func (c *Collector) RunEnd(ev domain.RunEnd) {
	c.runsFinished.WithLabelValues(string(ev.Type), string(ev.Result)).Inc()
}

// ResultEvent counts a classified flow outcome
func (c *Collector) ResultEvent(ev domain.ResultEvent) {
	c.resultEvents.WithLabelValues(ev.Action, ev.Result, ev.ErrType).Inc()
}

// ObserveRunDuration records how long a launched run took
func (c *Collector) ObserveRunDuration(scene domain.TestRunType, duration time.Duration) {
	c.runDuration.WithLabelValues(string(scene)).Observe(duration.Seconds())
}

// IncPollTicks counts one merged poll result
func (c *Collector) IncPollTicks() {
	c.pollTicks.Inc()
}

// SetSessionCount sets the number of open sessions
func (c *Collector) SetSessionCount(count int) {
	c.sessions.Set(float64(count))
}

// RecordSessionStates sets the per-state gauges. States missing from
// counts are reset to zero.
func (c *Collector) RecordSessionStates(counts map[domain.RunState]int) {
	for _, st := range domain.RunStates() {
		c.sessionStates.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// RecordPublish counts an event bus publish attempt
func (c *Collector) RecordPublish(eventType domain.EventType, err error) {
	if err != nil {
		c.publishFailures.Inc()
		return
	}
	c.eventsPublished.WithLabelValues(string(eventType)).Inc()
}

var _ ports.Reporter = (*Collector)(nil)
