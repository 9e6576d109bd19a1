package observability

import (
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/tickets", "GET", 200, 10*time.Millisecond)
	m.RecordRequest("/tickets", "GET", 200, 30*time.Millisecond)
	m.RecordError("/tickets/:id", "GET", "NOT_FOUND")
	m.RecordWorkflowOutcome("on-ticket-created", "succeeded")
	m.RecordStepAttempt("on-ticket-created", "classify")

	snap := m.Snapshot()
	if got := snap.Requests["/tickets|GET|200"]; got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if got := snap.Errors["/tickets/:id|GET|NOT_FOUND"]; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if got := snap.WorkflowOutcomes["on-ticket-created|succeeded"]; got != 1 {
		t.Errorf("outcomes = %d, want 1", got)
	}
	if snap.AvgLatencyMillis != 20 {
		t.Errorf("avg latency = %v, want 20", snap.AvgLatencyMillis)
	}

	snap.Requests["/tickets|GET|200"] = 99
	if m.Snapshot().Requests["/tickets|GET|200"] != 2 {
		t.Error("snapshot must be a copy")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.RecordWorkflowOutcome("w", "failed")
	m.RecordStepAttempt("w", "s")
}
