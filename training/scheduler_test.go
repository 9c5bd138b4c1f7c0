package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-train/tensor"
)

func schedulerOptimizer(t *testing.T, lr float64) *SGD {
	t.Helper()
	param := newParam(t, []float32{1})
	sgd, err := NewSGD([]*tensor.Tensor{param}, SGDConfig{LearningRate: lr})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	return sgd
}

func TestStepLR(t *testing.T) {
	opt := schedulerOptimizer(t, 1.0)
	s := NewStepLR(opt, 2, 0.1)

	// Each boundary crossing multiplies by gamma: the rate holds at the
	// base value only until the tick count first reaches stepSize
	expected := []float64{1.0, 0.1, 0.1, 0.01, 0.01}
	for i, want := range expected {
		s.Step()
		got := opt.GetLR()
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("tick %d: lr = %g, expected %g", i+1, got, want)
		}
	}
	if s.TickCount() != len(expected) {
		t.Errorf("tick count = %d, expected %d", s.TickCount(), len(expected))
	}
}

func TestStepLRDefaults(t *testing.T) {
	opt := schedulerOptimizer(t, 1.0)
	s := NewStepLR(opt, 0, 5.0) // both invalid, fall back to defaults

	s.Step()
	if got := opt.GetLR(); got != 1.0 {
		t.Errorf("lr = %g, expected unchanged before the default 30-tick boundary", got)
	}
}

func TestExponentialLR(t *testing.T) {
	opt := schedulerOptimizer(t, 1.0)
	s := NewExponentialLR(opt, 0.5)

	s.Step()
	if got := opt.GetLR(); got != 0.5 {
		t.Errorf("lr = %g, expected 0.5", got)
	}
	s.Step()
	if got := opt.GetLR(); got != 0.25 {
		t.Errorf("lr = %g, expected 0.25", got)
	}
}

func TestCosineAnnealingLR(t *testing.T) {
	opt := schedulerOptimizer(t, 1.0)
	s := NewCosineAnnealingLR(opt, 4, 0)

	// Halfway through the schedule the cosine curve sits at lr/2
	s.Step()
	s.Step()
	if got := opt.GetLR(); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("lr at midpoint = %g, expected 0.5", got)
	}

	s.Step()
	s.Step()
	if got := opt.GetLR(); got != 0 {
		t.Errorf("lr at tMax = %g, expected etaMin 0", got)
	}

	// Past tMax the rate stays pinned at etaMin
	s.Step()
	if got := opt.GetLR(); got != 0 {
		t.Errorf("lr past tMax = %g, expected etaMin 0", got)
	}
}

func TestSchedulerNames(t *testing.T) {
	opt := schedulerOptimizer(t, 1.0)

	tests := []struct {
		scheduler Scheduler
		expected  string
	}{
		{NewStepLR(opt, 2, 0.1), "StepLR"},
		{NewExponentialLR(opt, 0.5), "ExponentialLR"},
		{NewCosineAnnealingLR(opt, 10, 0), "CosineAnnealingLR"},
	}

	for _, test := range tests {
		if got := test.scheduler.Name(); got != test.expected {
			t.Errorf("Name() = %q, expected %q", got, test.expected)
		}
	}
}
