package training

import (
	"math"
)

// Scheduler advances a learning-rate schedule by one tick. Whether a tick is
// an optimizer step or an epoch is decided by the training unit's
// StepLRInterval, not by the scheduler itself.
type Scheduler interface {
	// Step advances the schedule and applies the new learning rate.
	Step()

	// Name returns the scheduler name for logging
	Name() string
}

// StepLR multiplies the learning rate by gamma every stepSize ticks.
type StepLR struct {
	optimizer Optimizer
	baseLR    float64
	stepSize  int
	gamma     float64
	count     int
}

// NewStepLR creates a step schedule over the optimizer's current learning
// rate.
func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLR{
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
		stepSize:  stepSize,
		gamma:     gamma,
	}
}

func (s *StepLR) Step() {
	s.count++
	times := s.count / s.stepSize
	s.optimizer.SetLR(s.baseLR * math.Pow(s.gamma, float64(times)))
}

func (s *StepLR) Name() string {
	return "StepLR"
}

// TickCount returns how many times the schedule has advanced.
func (s *StepLR) TickCount() int {
	return s.count
}

// ExponentialLR decays the learning rate by gamma every tick.
type ExponentialLR struct {
	optimizer Optimizer
	baseLR    float64
	gamma     float64
	count     int
}

// NewExponentialLR creates an exponential schedule over the optimizer's
// current learning rate.
func NewExponentialLR(optimizer Optimizer, gamma float64) *ExponentialLR {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLR{
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
		gamma:     gamma,
	}
}

func (s *ExponentialLR) Step() {
	s.count++
	s.optimizer.SetLR(s.baseLR * math.Pow(s.gamma, float64(s.count)))
}

func (s *ExponentialLR) Name() string {
	return "ExponentialLR"
}

// CosineAnnealingLR anneals the learning rate along a cosine curve from the
// base rate down to etaMin over tMax ticks.
type CosineAnnealingLR struct {
	optimizer Optimizer
	baseLR    float64
	tMax      int
	etaMin    float64
	count     int
}

// NewCosineAnnealingLR creates a cosine annealing schedule over the
// optimizer's current learning rate.
func NewCosineAnnealingLR(optimizer Optimizer, tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLR{
		optimizer: optimizer,
		baseLR:    optimizer.GetLR(),
		tMax:      tMax,
		etaMin:    etaMin,
	}
}

func (s *CosineAnnealingLR) Step() {
	s.count++
	if s.count >= s.tMax {
		s.optimizer.SetLR(s.etaMin)
		return
	}

	// Cosine annealing formula
	lr := s.etaMin + (s.baseLR-s.etaMin)*(1+math.Cos(math.Pi*float64(s.count)/float64(s.tMax)))/2
	s.optimizer.SetLR(lr)
}

func (s *CosineAnnealingLR) Name() string {
	return "CosineAnnealingLR"
}
