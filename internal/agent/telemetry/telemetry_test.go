package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robinochieng/deepresearch/config"
)

func newTestTelemetry() *Telemetry {
	return NewTelemetryWithRegistry(config.TelemetryConfig{Enabled: true}, prometheus.NewRegistry())
}

func TestRecordRunEvent(t *testing.T) {
	tel := newTestTelemetry()
	ctx := context.Background()

	tel.RecordRunEvent(ctx, RunEvent{RunID: "r1", Success: true, Duration: 2 * time.Second, Searches: 5})
	tel.RecordRunEvent(ctx, RunEvent{RunID: "r2", Success: false, Duration: 4 * time.Second, Searches: 3})

	m := tel.GetMetrics()
	if m.TotalRuns != 2 || m.SuccessfulRuns != 1 || m.FailedRuns != 1 {
		t.Fatalf("unexpected run counts: %+v", m)
	}
	if m.AverageRunTime != 3*time.Second {
		t.Fatalf("unexpected average run time: %v", m.AverageRunTime)
	}
	if m.SearchesRun != 8 {
		t.Fatalf("unexpected search count: %d", m.SearchesRun)
	}
}

func TestRecordStageAndDeliveryEvents(t *testing.T) {
	tel := newTestTelemetry()
	ctx := context.Background()

	tel.RecordStageEvent(ctx, StageEvent{RunID: "r1", Stage: "planning", Duration: time.Second, Success: true})
	tel.RecordStageEvent(ctx, StageEvent{RunID: "r1", Stage: "planning", Duration: 3 * time.Second, Success: true})
	tel.RecordDeliveryEvent(ctx, DeliveryEvent{RunID: "r1", Outcome: "sent", Attempts: 1})
	tel.RecordDeliveryEvent(ctx, DeliveryEvent{RunID: "r2", Outcome: "blocked"})

	m := tel.GetMetrics()
	if m.StageExecutions["planning"] != 2 {
		t.Fatalf("unexpected stage executions: %+v", m.StageExecutions)
	}
	if m.StageAverageTimes["planning"] != 2*time.Second {
		t.Fatalf("unexpected stage average: %v", m.StageAverageTimes["planning"])
	}
	if m.DeliveryOutcomes["sent"] != 1 || m.DeliveryOutcomes["blocked"] != 1 {
		t.Fatalf("unexpected delivery outcomes: %+v", m.DeliveryOutcomes)
	}
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tel := NewTelemetryWithRegistry(config.TelemetryConfig{Enabled: false}, prometheus.NewRegistry())
	tel.RecordRunEvent(context.Background(), RunEvent{RunID: "r1", Success: true})

	if m := tel.GetMetrics(); m.TotalRuns != 0 {
		t.Fatalf("disabled telemetry must not record, got %+v", m)
	}
}
