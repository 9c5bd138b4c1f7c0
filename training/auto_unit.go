package training

import (
	"fmt"

	"github.com/tsawler/go-train/tensor"
)

// Interval selects when the learning-rate scheduler advances and labels
// metric log events. The zero value is IntervalEpoch, matching the
// configuration default.
type Interval int

const (
	IntervalEpoch Interval = iota
	IntervalStep
)

func (i Interval) String() string {
	switch i {
	case IntervalEpoch:
		return "epoch"
	case IntervalStep:
		return "step"
	default:
		return "invalid"
	}
}

// TrainUnit is the per-batch/per-epoch contract a training driver calls.
type TrainUnit interface {
	TrainStep(state *State, batch *Batch) (loss *tensor.Tensor, output any, err error)
	OnTrainEpochEnd(state *State) error
}

// TrainHooks are the caller-supplied pieces of a training step. ComputeLoss
// is required; the other two default to no-ops when nil. Errors returned by
// any hook propagate to the driver unwrapped.
type TrainHooks struct {
	// ComputeLoss runs the forward pass and the loss computation. It is
	// called exactly once per TrainStep, inside the autocast region when a
	// precision is configured. The returned loss must carry the autograd
	// graph; the output is opaque to this package and handed back to
	// UpdateMetrics and the caller.
	ComputeLoss func(state *State, batch *Batch) (loss *tensor.Tensor, output any, err error)

	// UpdateMetrics is called after every successful optimizer step with
	// the unscaled loss. Optional.
	UpdateMetrics func(state *State, batch *Batch, loss *tensor.Tensor, output any) error

	// LogMetrics is called on the logging cadence with the number of steps
	// completed BEFORE the current one (zero-indexed: the first step logs
	// with step 0 when LogFrequencySteps is 1). At epoch end it is called
	// unconditionally with the cumulative step count. Optional.
	LogMetrics func(state *State, step uint64, interval Interval) error
}

// AutoUnitConfig configures an AutoTrainUnit. Module, Optimizer and
// LogFrequencySteps are required; everything else has a usable zero value.
type AutoUnitConfig struct {
	Module      Module
	Optimizer   Optimizer
	LRScheduler Scheduler // optional

	// StepLRInterval selects whether LRScheduler advances per optimizer
	// step or per epoch. Defaults to per epoch.
	StepLRInterval Interval

	// Device is the compute device for batches. The zero value selects the
	// environment-detected default.
	Device tensor.DeviceType

	// LogFrequencySteps is the step-logging cadence: LogMetrics fires once
	// every this many completed steps. Must be positive.
	LogFrequencySteps int

	// Precision is the optional reduced-precision token, "fp16" or "bf16".
	// An unrecognized token fails construction; there is no silent
	// fallback to full precision.
	Precision string

	// PrecisionDType optionally selects the precision by explicit dtype
	// instead of a token. Takes precedence over Precision when set.
	PrecisionDType *tensor.DType

	Hooks TrainHooks
}

// AutoTrainUnit runs the optimization step for callers training with
// stochastic gradient descent: forward and loss under the configured
// precision, scaled backward pass, optimizer step, gradient reset,
// scheduler advance and metric hooks. Callers supply the loss computation
// and use TrainStep/OnTrainEpochEnd from their driver loop.
//
// The unit's mutable state (the grad scaler and the progress counters in
// State) is not safe for concurrent use; a driver must not call TrainStep
// and OnTrainEpochEnd concurrently on the same unit.
type AutoTrainUnit struct {
	module            Module
	optimizer         Optimizer
	lrScheduler       Scheduler
	stepLRInterval    Interval
	device            tensor.DeviceType
	logFrequencySteps int
	precision         Precision
	scaler            Scaler
	hooks             TrainHooks

	preEpochEnd  []func(*State) error
	postEpochEnd []func(*State) error
}

// NewAutoTrainUnit validates the configuration and builds the unit. The
// precision is resolved here, once; the grad scaler, when fp16 is selected,
// is created here and lives for the lifetime of the unit.
func NewAutoTrainUnit(cfg AutoUnitConfig) (*AutoTrainUnit, error) {
	if cfg.Module == nil {
		return nil, fmt.Errorf("module is required")
	}
	if cfg.Optimizer == nil {
		return nil, fmt.Errorf("optimizer is required")
	}
	if cfg.Hooks.ComputeLoss == nil {
		return nil, fmt.Errorf("the ComputeLoss hook is required")
	}
	if cfg.LogFrequencySteps <= 0 {
		return nil, fmt.Errorf("log frequency must be positive, got %d", cfg.LogFrequencySteps)
	}
	if cfg.StepLRInterval != IntervalEpoch && cfg.StepLRInterval != IntervalStep {
		return nil, fmt.Errorf("invalid scheduler interval %d", cfg.StepLRInterval)
	}

	var precision Precision
	var err error
	if cfg.PrecisionDType != nil {
		precision, err = PrecisionFromDType(*cfg.PrecisionDType)
	} else {
		precision, err = ResolvePrecision(cfg.Precision)
	}
	if err != nil {
		return nil, err
	}

	device := cfg.Device
	if device == tensor.DeviceDefault {
		device = DefaultDevice()
	}

	return &AutoTrainUnit{
		module:            cfg.Module,
		optimizer:         cfg.Optimizer,
		lrScheduler:       cfg.LRScheduler,
		stepLRInterval:    cfg.StepLRInterval,
		device:            device,
		logFrequencySteps: cfg.LogFrequencySteps,
		precision:         precision,
		scaler:            maybeGradScaler(precision, cfg.Module),
		hooks:             cfg.Hooks,
	}, nil
}

// TrainStep executes one optimization step for the batch and returns the
// unscaled loss with the ComputeLoss output. The order is fixed: device
// placement, forward and loss inside the autocast region, scaled backward
// pass, optimizer step through the scaler when one is active, gradient
// reset to the absent state, per-step scheduler advance, metric hooks.
//
// When loss scaling is active the scaled loss stays local to the backward
// pass; the returned loss is always the value ComputeLoss produced, so
// losses stay comparable across precision settings.
func (u *AutoTrainUnit) TrainStep(state *State, batch *Batch) (*tensor.Tensor, any, error) {
	if err := state.validate(); err != nil {
		return nil, nil, err
	}

	batch, err := batch.To(u.device)
	if err != nil {
		return nil, nil, err
	}

	var loss *tensor.Tensor
	var output any
	if dtype, ok := u.precision.DType(); ok {
		err = tensor.WithAutocast(dtype, func() error {
			var hookErr error
			loss, output, hookErr = u.hooks.ComputeLoss(state, batch)
			return hookErr
		})
	} else {
		loss, output, err = u.hooks.ComputeLoss(state, batch)
	}
	if err != nil {
		return nil, nil, err
	}
	if loss == nil {
		return nil, nil, fmt.Errorf("ComputeLoss returned a nil loss")
	}

	// The autocast region is closed: gradients accumulate in full
	// precision from here on.
	backwardLoss := loss
	if u.scaler != nil {
		backwardLoss, err = u.scaler.Scale(loss)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := backwardLoss.Backward(); err != nil {
		return nil, nil, err
	}

	if u.scaler != nil {
		if err := u.scaler.Step(u.optimizer); err != nil {
			return nil, nil, err
		}
		u.scaler.Update()
	} else {
		if err := u.optimizer.Step(); err != nil {
			return nil, nil, err
		}
	}

	// Gradients go to the absent state, not zero-filled tensors.
	u.optimizer.ZeroGrad()

	if u.lrScheduler != nil && u.stepLRInterval == IntervalStep {
		u.lrScheduler.Step()
	}

	if u.hooks.UpdateMetrics != nil {
		if err := u.hooks.UpdateMetrics(state, batch, loss, output); err != nil {
			return nil, nil, err
		}
	}

	// The cadence check reads the count once, before the increment below,
	// so a driver mutating progress elsewhere cannot skew it mid-step.
	completed := state.Train.Progress.NumStepsCompleted
	if shouldLogStep(completed, u.logFrequencySteps) && u.hooks.LogMetrics != nil {
		if err := u.hooks.LogMetrics(state, completed, IntervalStep); err != nil {
			return nil, nil, err
		}
	}
	state.Train.Progress.NumStepsCompleted++

	return loss, output, nil
}

// OnTrainEpochEnd handles the epoch boundary: registered pre hooks, the
// per-epoch scheduler advance, the unconditional epoch log event, then
// registered post hooks. Extension happens through the registered hook
// lists, not by wrapping this method.
func (u *AutoTrainUnit) OnTrainEpochEnd(state *State) error {
	if err := state.validate(); err != nil {
		return err
	}

	for _, hook := range u.preEpochEnd {
		if err := hook(state); err != nil {
			return err
		}
	}

	if u.lrScheduler != nil && u.stepLRInterval == IntervalEpoch {
		u.lrScheduler.Step()
	}

	// Epoch logging has no cadence gate: it fires every epoch.
	if u.hooks.LogMetrics != nil {
		if err := u.hooks.LogMetrics(state, state.Train.Progress.NumStepsCompleted, IntervalEpoch); err != nil {
			return err
		}
	}

	for _, hook := range u.postEpochEnd {
		if err := hook(state); err != nil {
			return err
		}
	}

	state.Train.Progress.NumEpochsCompleted++
	return nil
}

// RegisterPreEpochEndHook adds a hook that runs at the start of
// OnTrainEpochEnd, before the scheduler advances. Hooks run in
// registration order.
func (u *AutoTrainUnit) RegisterPreEpochEndHook(hook func(*State) error) {
	u.preEpochEnd = append(u.preEpochEnd, hook)
}

// RegisterPostEpochEndHook adds a hook that runs at the end of
// OnTrainEpochEnd, after the epoch log event. Hooks run in registration
// order.
func (u *AutoTrainUnit) RegisterPostEpochEndHook(hook func(*State) error) {
	u.postEpochEnd = append(u.postEpochEnd, hook)
}

// shouldLogStep is the logging cadence: one log event every `every`
// completed steps, computed from the pre-increment completed count.
func shouldLogStep(completed uint64, every int) bool {
	return (completed+1)%uint64(every) == 0
}

// Module returns the module being trained.
func (u *AutoTrainUnit) Module() Module { return u.module }

// Optimizer returns the optimizer driving parameter updates.
func (u *AutoTrainUnit) Optimizer() Optimizer { return u.optimizer }

// LRScheduler returns the configured scheduler, or nil.
func (u *AutoTrainUnit) LRScheduler() Scheduler { return u.lrScheduler }

// Scaler returns the grad scaler, or nil when no loss scaling is active.
func (u *AutoTrainUnit) Scaler() Scaler { return u.scaler }

// Precision returns the resolved precision.
func (u *AutoTrainUnit) Precision() Precision { return u.precision }

// Device returns the compute device batches are moved to.
func (u *AutoTrainUnit) Device() tensor.DeviceType { return u.device }

// LogFrequencySteps returns the step-logging cadence.
func (u *AutoTrainUnit) LogFrequencySteps() int { return u.logFrequencySteps }
