package training

import (
	"fmt"

	"github.com/tsawler/go-train/tensor"
)

// Scaler is the runtime contract the training unit drives when fp16 loss
// scaling is active: Scale before backward, Step instead of a direct
// optimizer step, Update after every step.
type Scaler interface {
	// Scale multiplies the loss by the current scale factor. The
	// multiplication is recorded for backprop, so parameter gradients come
	// out scaled by the same factor.
	Scale(loss *tensor.Tensor) (*tensor.Tensor, error)

	// Step unscales the gradients and runs the optimizer step, skipping it
	// when any gradient overflowed to Inf or NaN.
	Step(opt Optimizer) error

	// Update adjusts the scale factor: shrink after an overflow, grow after
	// a run of clean steps.
	Update()
}

// Defaults match the conventional dynamic loss scaling schedule: start
// high, halve on overflow, double after a long run of clean steps.
const (
	defaultInitScale      = 65536.0
	defaultGrowthFactor   = 2.0
	defaultBackoffFactor  = 0.5
	defaultGrowthInterval = 2000
)

// GradScaler owns the mutable loss-scaling state for fp16 training: the
// scale factor and the step-success history. It is created once at unit
// construction and mutated every step; it is not safe for concurrent use.
type GradScaler struct {
	parameters     []*tensor.Tensor
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int

	goodSteps    int
	foundInf     bool
	skippedSteps int64
}

// NewGradScaler creates a scaler over the given parameters with the default
// scaling schedule.
func NewGradScaler(parameters []*tensor.Tensor) *GradScaler {
	return &GradScaler{
		parameters:     parameters,
		scale:          defaultInitScale,
		growthFactor:   defaultGrowthFactor,
		backoffFactor:  defaultBackoffFactor,
		growthInterval: defaultGrowthInterval,
	}
}

// Scale multiplies the loss by the current scale factor, recording the
// operation so the backward pass produces scaled gradients.
func (gs *GradScaler) Scale(loss *tensor.Tensor) (*tensor.Tensor, error) {
	scaled, err := tensor.MulScalarAutograd(loss, float32(gs.scale))
	if err != nil {
		return nil, fmt.Errorf("loss scaling failed: %v", err)
	}
	return scaled, nil
}

// unscaleAndCheck divides every present gradient by the scale factor in
// place and reports whether any gradient is non-finite. Inf and NaN survive
// the division, so checking after unscaling is safe.
func (gs *GradScaler) unscaleAndCheck() bool {
	inv := float32(1.0 / gs.scale)
	found := false
	for _, param := range gs.parameters {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		for i := range grad.Data {
			grad.Data[i] *= inv
		}
		if grad.HasNonFinite() {
			found = true
		}
	}
	return found
}

// Step unscales gradients and runs the optimizer step. On overflow the step
// is skipped: parameters keep their previous values and Update will back
// the scale factor off.
func (gs *GradScaler) Step(opt Optimizer) error {
	gs.foundInf = gs.unscaleAndCheck()
	if gs.foundInf {
		gs.skippedSteps++
		return nil
	}
	return opt.Step()
}

// Update adjusts the scale factor based on the last step: backoff on
// overflow, growth after growthInterval consecutive clean steps.
func (gs *GradScaler) Update() {
	if gs.foundInf {
		gs.scale *= gs.backoffFactor
		gs.goodSteps = 0
	} else {
		gs.goodSteps++
		if gs.goodSteps >= gs.growthInterval {
			gs.scale *= gs.growthFactor
			gs.goodSteps = 0
		}
	}
	gs.foundInf = false
}

// ScaleValue returns the current scale factor.
func (gs *GradScaler) ScaleValue() float64 {
	return gs.scale
}

// GoodSteps returns how many consecutive clean steps have run since the
// last scale adjustment.
func (gs *GradScaler) GoodSteps() int {
	return gs.goodSteps
}

// SkippedSteps returns how many optimizer steps were skipped on overflow.
func (gs *GradScaler) SkippedSteps() int64 {
	return gs.skippedSteps
}

// SetState restores the scaling state from a checkpoint.
func (gs *GradScaler) SetState(scale float64, goodSteps int) error {
	if scale <= 0 {
		return fmt.Errorf("scale must be positive, got %f", scale)
	}
	if goodSteps < 0 {
		return fmt.Errorf("good step count must be non-negative, got %d", goodSteps)
	}
	gs.scale = scale
	gs.goodSteps = goodSteps
	gs.foundInf = false
	return nil
}

// OverflowSync merges the local overflow flag with the overflow state of
// the other shards of a sharded model. The distributed communication itself
// belongs to the sharding implementation; this package only defines the
// synchronization point.
type OverflowSync func(localOverflow bool) bool

// ShardedGradScaler is the scaler variant for sharded models. It runs the
// same scaling schedule as GradScaler but reduces the overflow flag across
// shards before the skip decision, so every shard adjusts its scale factor
// in lockstep.
type ShardedGradScaler struct {
	GradScaler
	sync OverflowSync
}

// NewShardedGradScaler creates a sharded-aware scaler. A nil sync callback
// leaves the overflow flag local, which is correct for a single-process
// shard group.
func NewShardedGradScaler(parameters []*tensor.Tensor, sync OverflowSync) *ShardedGradScaler {
	return &ShardedGradScaler{
		GradScaler: GradScaler{
			parameters:     parameters,
			scale:          defaultInitScale,
			growthFactor:   defaultGrowthFactor,
			backoffFactor:  defaultBackoffFactor,
			growthInterval: defaultGrowthInterval,
		},
		sync: sync,
	}
}

// Step unscales gradients, merges the overflow flag across shards and runs
// the optimizer step unless any shard overflowed.
func (ss *ShardedGradScaler) Step(opt Optimizer) error {
	local := ss.unscaleAndCheck()
	if ss.sync != nil {
		local = ss.sync(local)
	}
	ss.foundInf = local
	if ss.foundInf {
		ss.skippedSteps++
		return nil
	}
	return opt.Step()
}

// maybeGradScaler decides whether loss scaling is needed for the resolved
// precision. Only fp16 needs a scaler: bf16 keeps the float32 exponent
// range, and full precision never overflows from the cast. Sharded models
// get the sharded-aware variant.
func maybeGradScaler(p Precision, module Module) Scaler {
	if p != PrecisionFloat16 {
		return nil
	}
	if sharded, ok := module.(ShardedModule); ok && sharded.Sharded() {
		return NewShardedGradScaler(module.Parameters(), nil)
	}
	return NewGradScaler(module.Parameters())
}
