package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robinochieng/deepresearch/config"
)

// Telemetry records pipeline run, stage and delivery events, both as
// in-memory aggregates and as prometheus metrics.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	metrics *Metrics
	mu      sync.RWMutex

	runsTotal       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	deliveriesTotal *prometheus.CounterVec
	searchesTotal   prometheus.Counter
}

// Metrics holds aggregate pipeline metrics
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	// Stage metrics
	StageExecutions   map[string]int64
	StageAverageTimes map[string]time.Duration

	// Delivery metrics
	DeliveryOutcomes map[string]int64
	SearchesRun      int64
}

// RunEvent represents a complete pipeline run
type RunEvent struct {
	RunID     string
	Query     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Success   bool
	Error     string
	Searches  int
}

// StageEvent represents one stage of a run
type StageEvent struct {
	RunID     string
	Stage     string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// DeliveryEvent represents the outcome of one delivery
type DeliveryEvent struct {
	RunID    string
	Outcome  string
	Attempts int
	Blocked  []string
}

// NewTelemetry creates a new telemetry instance registered on the default
// prometheus registry.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	return NewTelemetryWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewTelemetryWithRegistry registers the metrics on the given registerer.
func NewTelemetryWithRegistry(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions:   make(map[string]int64),
			StageAverageTimes: make(map[string]time.Duration),
			DeliveryOutcomes:  make(map[string]int64),
		},
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_runs_total",
			Help: "Pipeline runs by terminal outcome.",
		}, []string{"outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deepresearch_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		deliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deepresearch_deliveries_total",
			Help: "Email deliveries by outcome.",
		}, []string{"outcome"}),
		searchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "deepresearch_searches_total",
			Help: "Search fan-out tasks executed.",
		}),
	}

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startMetricsReporting()
	}

	return t
}

// RecordRunEvent records a completed pipeline run
func (t *Telemetry) RecordRunEvent(ctx context.Context, event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	outcome := "success"
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
		outcome = "failure"
	}
	t.runsTotal.WithLabelValues(outcome).Inc()

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	t.metrics.SearchesRun += int64(event.Searches)
	t.searchesTotal.Add(float64(event.Searches))

	t.logger.Printf("Run Event: ID=%s, Success=%t, Duration=%v, Searches=%d",
		event.RunID, event.Success, event.Duration, event.Searches)
}

// RecordStageEvent records one stage execution
func (t *Telemetry) RecordStageEvent(ctx context.Context, event StageEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++
	count := t.metrics.StageExecutions[event.Stage]
	if count == 1 {
		t.metrics.StageAverageTimes[event.Stage] = event.Duration
	} else {
		total := t.metrics.StageAverageTimes[event.Stage] * time.Duration(count-1)
		t.metrics.StageAverageTimes[event.Stage] = (total + event.Duration) / time.Duration(count)
	}
	t.stageDuration.WithLabelValues(event.Stage).Observe(event.Duration.Seconds())

	if !event.Success {
		t.logger.Printf("Stage Event: run=%s stage=%s failed after %v: %s",
			event.RunID, event.Stage, event.Duration, event.Error)
	}
}

// RecordDeliveryEvent records the outcome of one delivery
func (t *Telemetry) RecordDeliveryEvent(ctx context.Context, event DeliveryEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.DeliveryOutcomes[event.Outcome]++
	t.deliveriesTotal.WithLabelValues(event.Outcome).Inc()

	t.logger.Printf("Delivery Event: run=%s outcome=%s attempts=%d",
		event.RunID, event.Outcome, event.Attempts)
}

// GetMetrics returns a copy of the current metrics
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	copied := Metrics{
		TotalRuns:         t.metrics.TotalRuns,
		SuccessfulRuns:    t.metrics.SuccessfulRuns,
		FailedRuns:        t.metrics.FailedRuns,
		AverageRunTime:    t.metrics.AverageRunTime,
		SearchesRun:       t.metrics.SearchesRun,
		StageExecutions:   make(map[string]int64),
		StageAverageTimes: make(map[string]time.Duration),
		DeliveryOutcomes:  make(map[string]int64),
	}
	for k, v := range t.metrics.StageExecutions {
		copied.StageExecutions[k] = v
	}
	for k, v := range t.metrics.StageAverageTimes {
		copied.StageAverageTimes[k] = v
	}
	for k, v := range t.metrics.DeliveryOutcomes {
		copied.DeliveryOutcomes[k] = v
	}
	return copied
}

func (t *Telemetry) startMetricsReporting() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m := t.GetMetrics()
		t.logger.Printf("Metrics: runs=%d ok=%d failed=%d avg=%v searches=%d",
			m.TotalRuns, m.SuccessfulRuns, m.FailedRuns, m.AverageRunTime, m.SearchesRun)
	}
}
