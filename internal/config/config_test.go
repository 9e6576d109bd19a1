package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "")
	t.Setenv("WORKFLOW_NOTIFY_FAILURE_POLICY", "")
	t.Setenv("WORKFLOW_STEP_RETRIES", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Events.Backend != EventsBackendRedis {
		t.Errorf("backend = %q, want redis", cfg.Events.Backend)
	}
	if cfg.Workflow.NotifyFailurePolicy != NotifyFailureSwallow {
		t.Errorf("policy = %q, want swallow", cfg.Workflow.NotifyFailurePolicy)
	}
	if cfg.Workflow.StepRetries != 2 {
		t.Errorf("retries = %d, want 2", cfg.Workflow.StepRetries)
	}
	if cfg.App.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.App.Port)
	}
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("WORKFLOW_NOTIFY_FAILURE_POLICY", "explode")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown notify policy")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "kafka")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown events backend")
	}
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Events.WorkerConcurrency != 4 {
		t.Errorf("concurrency = %d, want fallback 4", cfg.Events.WorkerConcurrency)
	}
}

func TestDurations(t *testing.T) {
	w := WorkflowConfig{RetryBackoffMillis: 250}
	if got := w.RetryBackoff(); got != 250*time.Millisecond {
		t.Errorf("RetryBackoff = %v", got)
	}
	if got := w.ResultTTL(); got != 24*time.Hour {
		t.Errorf("ResultTTL default = %v", got)
	}
	if got := (AppConfig{}).RequestTimeout(); got != 0 {
		t.Errorf("RequestTimeout zero = %v", got)
	}
}
