package training

import (
	"strings"
	"testing"
	"time"
)

func TestProgressBarRenderLine(t *testing.T) {
	pb := NewProgressBar("Training", 10)
	pb.current = 5
	pb.metrics = map[string]float64{
		"loss":     0.5,
		"accuracy": 0.45,
		"scale":    65536,
	}

	line := pb.renderLine()

	if !strings.HasPrefix(line, "\rTraining:  50%|") {
		t.Errorf("line prefix = %q, expected description and percentage", line)
	}
	if !strings.Contains(line, "| 5/10") {
		t.Errorf("line %q should contain the step counter", line)
	}
	if !strings.HasSuffix(line, "]") {
		t.Errorf("line %q should close the bracket", line)
	}

	tests := []struct {
		name     string
		fragment string
	}{
		{"loss uses three decimals", "loss=0.500"},
		{"accuracy renders as a percentage", "accuracy=45.00%"},
		{"scale renders without decimals", "scale=65536"},
		{"rate is shown", "batch/s"},
	}
	for _, tt := range tests {
		if !strings.Contains(line, tt.fragment) {
			t.Errorf("%s: line %q should contain %q", tt.name, line, tt.fragment)
		}
	}
}

func TestProgressBarMetricOrderIsStable(t *testing.T) {
	pb := NewProgressBar("Training", 4)
	pb.current = 2
	pb.metrics = map[string]float64{"loss": 1, "accuracy": 0.5, "scale": 2}

	line := pb.renderLine()
	accuracyIdx := strings.Index(line, "accuracy=")
	lossIdx := strings.Index(line, "loss=")
	scaleIdx := strings.Index(line, "scale=")

	if accuracyIdx < 0 || lossIdx < 0 || scaleIdx < 0 {
		t.Fatalf("line %q is missing a metric", line)
	}
	if !(accuracyIdx < lossIdx && lossIdx < scaleIdx) {
		t.Errorf("metrics should appear in sorted key order, got %q", line)
	}
}

func TestProgressBarClampsOverflow(t *testing.T) {
	pb := NewProgressBar("Training", 10)
	pb.current = 15

	line := pb.renderLine()
	if !strings.Contains(line, "100%") {
		t.Errorf("line %q should clamp at 100%%", line)
	}
	if !strings.Contains(line, "15/10") {
		t.Errorf("line %q should keep the raw step counter", line)
	}
}

func TestProgressBarLifecycle(t *testing.T) {
	pb := NewProgressBar("Smoke", 3)
	for i := 1; i <= 3; i++ {
		pb.Update(i, map[string]float64{"loss": 1.0 / float64(i)})
	}
	pb.UpdateMetrics(map[string]float64{"scale": 1024})
	pb.Finish()

	if pb.current != 3 {
		t.Errorf("current after Finish = %d, expected total 3", pb.current)
	}
	if pb.metrics["scale"] != 1024 {
		t.Error("UpdateMetrics should merge into the existing metrics")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "00:00"},
		{65 * time.Second, "01:05"},
		{603 * time.Second, "10:03"},
		{3700 * time.Second, "61:40"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.duration); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, expected %q", tt.duration, got, tt.expected)
		}
	}
}
