package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robinochieng/deepresearch/config"
	"github.com/robinochieng/deepresearch/internal/agent/telemetry"
	"github.com/robinochieng/deepresearch/internal/mail"
)

// Deliverer is the slice of the delivery gateway the orchestrator needs.
type Deliverer interface {
	Deliver(ctx context.Context, subject, body, recipient string) mail.DeliveryResult
}

// RunResult is the terminal outcome of one pipeline run. On a Failed run the
// partial results already produced (a completed plan or report) stay populated
// so callers can inspect them.
type RunResult struct {
	RunID    string              `json:"run_id"`
	Query    string              `json:"query"`
	Plan     SearchPlan          `json:"plan"`
	Report   ResearchReport      `json:"report"`
	Delivery mail.DeliveryResult `json:"delivery"`
}

// Orchestrator drives the full research pipeline as an explicit state machine:
// Planning -> Searching -> Writing -> Delivering -> Complete, with a side
// transition to Failed from any non-terminal stage.
type Orchestrator struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	planner Planner
	fanout  *FanOutExecutor
	writer  Writer
	gateway Deliverer

	// Run state
	runs    map[string]*RunStatus
	results map[string]*RunResult
	mu      sync.RWMutex
}

var orchestratorTracer trace.Tracer = otel.Tracer("deepresearch/internal/agent/orchestrator")

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(cfg *config.Config, tel *telemetry.Telemetry, planner Planner, fanout *FanOutExecutor, writer Writer, gateway Deliverer) *Orchestrator {
	return &Orchestrator{
		config:    cfg,
		logger:    log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		telemetry: tel,
		planner:   planner,
		fanout:    fanout,
		writer:    writer,
		gateway:   gateway,
		runs:      make(map[string]*RunStatus),
		results:   make(map[string]*RunResult),
	}
}

// Run executes the pipeline synchronously and returns the terminal result.
func (o *Orchestrator) Run(ctx context.Context, query, recipient string) (*RunResult, error) {
	runID, recipient, err := o.register(query, recipient)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, runID, query, recipient)
}

// StartRun validates the inputs, registers the run and executes it in the
// background. The returned id can be polled with Status and Result.
func (o *Orchestrator) StartRun(query, recipient string) (string, error) {
	runID, recipient, err := o.register(query, recipient)
	if err != nil {
		return "", err
	}
	go func() {
		ctx := context.Background()
		if timeout := o.config.General.MaxProcessingTime; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if _, err := o.execute(ctx, runID, query, recipient); err != nil {
			o.logger.Printf("Run %s failed: %v", runID, err)
		}
	}()
	return runID, nil
}

// Status returns the current snapshot of a run.
func (o *Orchestrator) Status(runID string) (RunStatus, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	status, ok := o.runs[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *status, true
}

// Result returns the terminal result of a run, if it has one.
func (o *Orchestrator) Result(runID string) (*RunResult, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	result, ok := o.results[runID]
	return result, ok
}

// register resolves the recipient and creates the run record. Configuration
// errors surface here, before any stage executes.
func (o *Orchestrator) register(query, recipient string) (string, string, error) {
	if strings.TrimSpace(query) == "" {
		return "", "", fmt.Errorf("query must not be empty")
	}
	// Explicit recipient takes precedence over the configured default.
	if recipient == "" {
		recipient = o.config.Email.Recipient
	}
	if recipient == "" {
		return "", "", fmt.Errorf("no recipient: pass one explicitly or set email.recipient")
	}

	runID := uuid.New().String()
	now := time.Now()
	o.mu.Lock()
	o.runs[runID] = &RunStatus{
		RunID:       runID,
		Query:       query,
		Stage:       StageIdle,
		CreatedAt:   now,
		LastUpdated: now,
	}
	o.mu.Unlock()
	return runID, recipient, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID, query, recipient string) (*RunResult, error) {
	startTime := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.query", query),
		))
	defer span.End()

	result := &RunResult{RunID: runID, Query: query}
	runEvent := telemetry.RunEvent{RunID: runID, Query: query, StartTime: startTime}
	defer func() {
		runEvent.EndTime = time.Now()
		runEvent.Duration = runEvent.EndTime.Sub(runEvent.StartTime)
		o.telemetry.RecordRunEvent(ctx, runEvent)
	}()

	o.logger.Printf("Starting run %s: %s", runID, truncate(query, 100))

	// Phase 1: Planning
	o.setStage(runID, StagePlanning, "Creating search plan")
	planCtx, planSpan := orchestratorTracer.Start(ctx, "pipeline.planning")
	planStart := time.Now()
	plan, err := o.planner.Plan(planCtx, query)
	o.recordStage(planCtx, runID, StagePlanning, planStart, err)
	endStageSpan(planSpan, err)
	if err != nil {
		return o.fail(ctx, span, runID, result, &runEvent, err)
	}
	result.Plan = plan
	runEvent.Searches = len(plan.Searches)
	span.AddEvent("plan.complete", trace.WithAttributes(attribute.Int("plan.searches", len(plan.Searches))))

	// Phase 2: Searching
	o.setStage(runID, StageSearching, fmt.Sprintf("Running %d searches", len(plan.Searches)))
	searchCtx, searchSpan := orchestratorTracer.Start(ctx, "pipeline.searching")
	searchStart := time.Now()
	summaries, err := o.fanout.Run(searchCtx, plan)
	o.recordStage(searchCtx, runID, StageSearching, searchStart, err)
	endStageSpan(searchSpan, err)
	if err != nil {
		return o.fail(ctx, span, runID, result, &runEvent, err)
	}
	span.AddEvent("search.complete")

	// Phase 3: Writing
	o.setStage(runID, StageWriting, "Synthesizing report")
	writeCtx, writeSpan := orchestratorTracer.Start(ctx, "pipeline.writing")
	writeStart := time.Now()
	report, err := o.writer.Write(writeCtx, query, summaries)
	o.recordStage(writeCtx, runID, StageWriting, writeStart, err)
	endStageSpan(writeSpan, err)
	if err != nil {
		return o.fail(ctx, span, runID, result, &runEvent, err)
	}
	result.Report = report
	span.AddEvent("write.complete")

	// Phase 4: Delivering
	o.setStage(runID, StageDelivering, fmt.Sprintf("Delivering to %s", recipient))
	deliverCtx, deliverSpan := orchestratorTracer.Start(ctx, "pipeline.delivering")
	deliverStart := time.Now()
	subject := deriveSubject(report.MarkdownReport, query)
	delivery := o.gateway.Deliver(deliverCtx, subject, report.MarkdownReport, recipient)
	o.recordStage(deliverCtx, runID, StageDelivering, deliverStart, delivery.Err)
	endStageSpan(deliverSpan, delivery.Err)
	result.Delivery = delivery
	o.telemetry.RecordDeliveryEvent(ctx, telemetry.DeliveryEvent{
		RunID:    runID,
		Outcome:  string(delivery.Outcome),
		Attempts: len(delivery.Attempts),
		Blocked:  delivery.BlockingIssues,
	})

	// A Blocked delivery is a normal typed outcome; an exhausted retry loop
	// is an unrecovered error of the delivering stage.
	if delivery.Outcome == mail.OutcomeFailed {
		return o.fail(ctx, span, runID, result, &runEvent, fmt.Errorf("delivery failed: %w", delivery.Err))
	}

	o.setStage(runID, StageComplete, fmt.Sprintf("Delivery %s", delivery.Outcome))
	o.storeResult(result)
	runEvent.Success = true
	o.logger.Printf("Run %s complete: delivery=%s", runID, delivery.Outcome)
	return result, nil
}

// recordStage emits the telemetry event for one pipeline phase.
func (o *Orchestrator) recordStage(ctx context.Context, runID string, stage Stage, start time.Time, err error) {
	event := telemetry.StageEvent{
		RunID:     runID,
		Stage:     string(stage),
		StartTime: start,
		EndTime:   time.Now(),
		Success:   err == nil,
	}
	event.Duration = event.EndTime.Sub(event.StartTime)
	if err != nil {
		event.Error = err.Error()
	}
	o.telemetry.RecordStageEvent(ctx, event)
}

func endStageSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, runID string, result *RunResult, runEvent *telemetry.RunEvent, err error) (*RunResult, error) {
	o.setStageError(runID, err)
	o.storeResult(result)
	runEvent.Success = false
	runEvent.Error = err.Error()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.logger.Printf("Run %s failed: %v", runID, err)
	return result, err
}

func (o *Orchestrator) setStage(runID string, stage Stage, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if status, ok := o.runs[runID]; ok {
		status.Stage = stage
		status.Message = message
		status.LastUpdated = time.Now()
	}
}

func (o *Orchestrator) setStageError(runID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if status, ok := o.runs[runID]; ok {
		status.Stage = StageFailed
		status.Error = err.Error()
		status.LastUpdated = time.Now()
	}
}

func (o *Orchestrator) storeResult(result *RunResult) {
	o.mu.Lock()
	o.results[result.RunID] = result
	o.mu.Unlock()
}

// deriveSubject uses the report's first top-level markdown heading as the
// email subject, falling back to the query.
func deriveSubject(body, query string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(rest)
		}
		if rest, ok := strings.CutPrefix(line, "## "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return "Research Report: " + query
}
