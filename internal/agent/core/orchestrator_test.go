package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robinochieng/deepresearch/config"
	"github.com/robinochieng/deepresearch/internal/agent/telemetry"
	"github.com/robinochieng/deepresearch/internal/mail"
)

type stubPlanner struct {
	plan  SearchPlan
	err   error
	calls int
}

func (p *stubPlanner) Plan(ctx context.Context, query string) (SearchPlan, error) {
	p.calls++
	if p.err != nil {
		return SearchPlan{}, p.err
	}
	return p.plan, nil
}

type stubWriter struct {
	report    ResearchReport
	err       error
	calls     int
	summaries []string
}

func (w *stubWriter) Write(ctx context.Context, query string, summaries []string) (ResearchReport, error) {
	w.calls++
	w.summaries = summaries
	if w.err != nil {
		return ResearchReport{}, w.err
	}
	return w.report, nil
}

type stubDeliverer struct {
	result    mail.DeliveryResult
	calls     int
	subject   string
	body      string
	recipient string
}

func (d *stubDeliverer) Deliver(ctx context.Context, subject, body, recipient string) mail.DeliveryResult {
	d.calls++
	d.subject = subject
	d.body = body
	d.recipient = recipient
	return d.result
}

func testConfig() *config.Config {
	return &config.Config{
		Email:     config.EmailConfig{Recipient: "robin@company.com"},
		Telemetry: config.TelemetryConfig{Enabled: true},
	}
}

func newTestOrchestrator(cfg *config.Config, planner Planner, searcher Searcher, writer Writer, gateway Deliverer) *Orchestrator {
	tel := telemetry.NewTelemetryWithRegistry(cfg.Telemetry, prometheus.NewRegistry())
	return NewOrchestrator(cfg, tel, planner, NewFanOutExecutor(searcher, 0), writer, gateway)
}

func TestRunHappyPath(t *testing.T) {
	planner := &stubPlanner{plan: makePlan(3)}
	searcher := &indexedSearcher{}
	writer := &stubWriter{report: ResearchReport{
		ShortSummary:   "Three findings.",
		MarkdownReport: "# Quantum Networking in 2026\n\nFindings...",
	}}
	gateway := &stubDeliverer{result: mail.DeliveryResult{Outcome: mail.OutcomeSent}}
	o := newTestOrchestrator(testConfig(), planner, searcher, writer, gateway)

	result, err := o.Run(context.Background(), "state of quantum networking", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Delivery.Outcome != mail.OutcomeSent {
		t.Fatalf("expected sent, got %s", result.Delivery.Outcome)
	}
	if gateway.recipient != "robin@company.com" {
		t.Fatalf("expected configured default recipient, got %q", gateway.recipient)
	}
	if gateway.subject != "Quantum Networking in 2026" {
		t.Fatalf("expected subject from report heading, got %q", gateway.subject)
	}
	if len(writer.summaries) != 3 {
		t.Fatalf("expected 3 summaries passed to writer, got %d", len(writer.summaries))
	}
	for i, s := range writer.summaries {
		if want := fmt.Sprintf("summary of q%d", i); s != want {
			t.Fatalf("summary %d = %q, want %q", i, s, want)
		}
	}

	status, ok := o.Status(result.RunID)
	if !ok {
		t.Fatal("run status missing")
	}
	if status.Stage != StageComplete {
		t.Fatalf("expected complete, got %s", status.Stage)
	}
	stored, ok := o.Result(result.RunID)
	if !ok || stored.Report.MarkdownReport == "" {
		t.Fatal("terminal result not stored")
	}
}

func TestRunExplicitRecipientPrecedence(t *testing.T) {
	planner := &stubPlanner{plan: makePlan(3)}
	writer := &stubWriter{report: ResearchReport{ShortSummary: "s", MarkdownReport: "body"}}
	gateway := &stubDeliverer{result: mail.DeliveryResult{Outcome: mail.OutcomeSent}}
	o := newTestOrchestrator(testConfig(), planner, &indexedSearcher{}, writer, gateway)

	if _, err := o.Run(context.Background(), "query", "other@company.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.recipient != "other@company.com" {
		t.Fatalf("explicit recipient should win, got %q", gateway.recipient)
	}
}

func TestRunMissingRecipientIsConfigError(t *testing.T) {
	cfg := testConfig()
	cfg.Email.Recipient = ""
	planner := &stubPlanner{plan: makePlan(3)}
	o := newTestOrchestrator(cfg, planner, &indexedSearcher{}, &stubWriter{}, &stubDeliverer{})

	if _, err := o.Run(context.Background(), "query", ""); err == nil {
		t.Fatal("expected error with no recipient")
	}
	if planner.calls != 0 {
		t.Fatalf("no stage may run before recipient resolution, planner called %d times", planner.calls)
	}
}

func TestRunPlanningFailure(t *testing.T) {
	planner := &stubPlanner{err: &PlanningError{Err: errors.New("model unavailable")}}
	writer := &stubWriter{}
	gateway := &stubDeliverer{}
	o := newTestOrchestrator(testConfig(), planner, &indexedSearcher{}, writer, gateway)

	result, err := o.Run(context.Background(), "query", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var planErr *PlanningError
	if !errors.As(err, &planErr) {
		t.Fatalf("expected *PlanningError, got %T", err)
	}
	if writer.calls != 0 || gateway.calls != 0 {
		t.Fatal("later stages must not run after planning failure")
	}
	status, _ := o.Status(result.RunID)
	if status.Stage != StageFailed {
		t.Fatalf("expected failed, got %s", status.Stage)
	}
}

func TestRunSearchFailureSkipsWriter(t *testing.T) {
	planner := &stubPlanner{plan: makePlan(5)}
	searcher := &indexedSearcher{fail: map[string]error{"q2": errors.New("upstream timeout")}}
	writer := &stubWriter{}
	gateway := &stubDeliverer{}
	o := newTestOrchestrator(testConfig(), planner, searcher, writer, gateway)

	result, err := o.Run(context.Background(), "query", "")
	if err == nil {
		t.Fatal("expected error")
	}
	var batchErr *FanOutError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *FanOutError, got %T", err)
	}
	if !strings.Contains(err.Error(), "index 2") {
		t.Fatalf("error should name the failed index, got %q", err.Error())
	}
	if writer.calls != 0 {
		t.Fatal("writer must not run after search failure")
	}
	if gateway.calls != 0 {
		t.Fatal("delivery must not run after search failure")
	}
	status, _ := o.Status(result.RunID)
	if status.Stage != StageFailed {
		t.Fatalf("expected failed, got %s", status.Stage)
	}
	// The completed plan stays available for inspection.
	if len(result.Plan.Searches) != 5 {
		t.Fatalf("expected partial result to keep the plan, got %d items", len(result.Plan.Searches))
	}
}

func TestRunBlockedDeliveryIsTerminalComplete(t *testing.T) {
	planner := &stubPlanner{plan: makePlan(3)}
	writer := &stubWriter{report: ResearchReport{ShortSummary: "s", MarkdownReport: "body"}}
	gateway := &stubDeliverer{result: mail.DeliveryResult{
		Outcome:        mail.OutcomeBlocked,
		BlockingIssues: []string{"Invalid email format: not-an-email"},
	}}
	o := newTestOrchestrator(testConfig(), planner, &indexedSearcher{}, writer, gateway)

	result, err := o.Run(context.Background(), "query", "")
	if err != nil {
		t.Fatalf("blocked delivery is a typed outcome, not an error: %v", err)
	}
	if result.Delivery.Outcome != mail.OutcomeBlocked {
		t.Fatalf("expected blocked, got %s", result.Delivery.Outcome)
	}
	status, _ := o.Status(result.RunID)
	if status.Stage != StageComplete {
		t.Fatalf("expected complete, got %s", status.Stage)
	}
}

func TestRunDeliveryFailureKeepsReport(t *testing.T) {
	planner := &stubPlanner{plan: makePlan(3)}
	writer := &stubWriter{report: ResearchReport{ShortSummary: "s", MarkdownReport: "# Report\n\nbody"}}
	gateway := &stubDeliverer{result: mail.DeliveryResult{
		Outcome: mail.OutcomeFailed,
		Err:     errors.New("failed to send after 3 attempts"),
	}}
	o := newTestOrchestrator(testConfig(), planner, &indexedSearcher{}, writer, gateway)

	result, err := o.Run(context.Background(), "query", "")
	if err == nil {
		t.Fatal("expected error on failed delivery")
	}
	if result.Report.MarkdownReport == "" {
		t.Fatal("report must stay available after delivery failure")
	}
	status, _ := o.Status(result.RunID)
	if status.Stage != StageFailed {
		t.Fatalf("expected failed, got %s", status.Stage)
	}
}

func TestDeriveSubject(t *testing.T) {
	cases := []struct {
		body, query, want string
	}{
		{"# Fusion Energy Outlook\n\ntext", "q", "Fusion Energy Outlook"},
		{"intro\n## Second-Level Title\ntext", "q", "Second-Level Title"},
		{"no headings here", "fusion energy", "Research Report: fusion energy"},
		{"", "fusion energy", "Research Report: fusion energy"},
	}
	for _, c := range cases {
		if got := deriveSubject(c.body, c.query); got != c.want {
			t.Fatalf("deriveSubject(%q) = %q, want %q", c.body, got, c.want)
		}
	}
}
