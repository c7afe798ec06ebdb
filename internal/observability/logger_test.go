package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("orchestrator", &buf)

	l.Info("task claimed", "task_id", "t1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output not JSON: %v", err)
	}
	if entry["component"] != "orchestrator" {
		t.Errorf("component: got %v", entry["component"])
	}
	if entry["task_id"] != "t1" {
		t.Errorf("task_id: got %v", entry["task_id"])
	}
	if entry["msg"] != "task claimed" {
		t.Errorf("msg: got %v", entry["msg"])
	}
}

func TestLogger_Step(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("orchestrator", &buf)

	l.Step(3, 6, "video_generation", "step started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output not JSON: %v", err)
	}
	if entry["step"] != "video_generation" {
		t.Errorf("step: got %v", entry["step"])
	}
	if entry["step_index"] != float64(3) || entry["total_steps"] != float64(6) {
		t.Errorf("indices: got %v/%v", entry["step_index"], entry["total_steps"])
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("worker", &buf).With("worker_id", "w1")

	l.Warn("claim contention")

	out := buf.String()
	if !strings.Contains(out, `"worker_id":"w1"`) {
		t.Errorf("persistent field missing: %s", out)
	}
}
