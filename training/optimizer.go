package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-train/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement.
// ZeroGrad moves gradients to the absent state (nil), not to zero-filled
// tensors, so no storage is retained between steps.
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Clears gradients for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// SGD implements Stochastic Gradient Descent with optional momentum,
// weight decay and Nesterov acceleration.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	dampening    float64
	nesterov     bool
	velocities   [][]float32
	mutex        sync.RWMutex
}

// SGDConfig holds the hyperparameters for SGD.
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	WeightDecay  float64
	Dampening    float64
	Nesterov     bool
}

// NewSGD creates a new SGD optimizer over the given parameters.
func NewSGD(parameters []*tensor.Tensor, config SGDConfig) (*SGD, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires momentum > 0 and zero dampening")
	}

	sgd := &SGD{
		parameters:   parameters,
		learningRate: config.LearningRate,
		momentum:     config.Momentum,
		weightDecay:  config.WeightDecay,
		dampening:    config.Dampening,
		nesterov:     config.Nesterov,
		velocities:   make([][]float32, len(parameters)),
	}
	return sgd, nil
}

// Step performs a single optimization step. Parameters without a gradient
// are skipped.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	lr := float32(sgd.learningRate)
	for i, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		grad := param.Grad().Data

		update := make([]float32, len(grad))
		copy(update, grad)

		if sgd.weightDecay > 0 {
			wd := float32(sgd.weightDecay)
			for j := range update {
				update[j] += wd * param.Data[j]
			}
		}

		if sgd.momentum > 0 {
			if sgd.velocities[i] == nil {
				sgd.velocities[i] = make([]float32, len(update))
			}
			v := sgd.velocities[i]
			mu := float32(sgd.momentum)
			damp := float32(1.0 - sgd.dampening)
			for j := range v {
				v[j] = mu*v[j] + damp*update[j]
			}
			if sgd.nesterov {
				for j := range update {
					update[j] += mu * v[j]
				}
			} else {
				copy(update, v)
			}
		}

		for j := range param.Data {
			param.Data[j] -= lr * update[j]
		}
	}

	return nil
}

// ZeroGrad clears gradients for all parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ClearGrads(sgd.parameters)
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// Parameters returns the parameters this optimizer updates.
func (sgd *SGD) Parameters() []*tensor.Tensor {
	return sgd.parameters
}

// Velocities returns a copy of the momentum buffers, one per parameter.
// Entries are nil for parameters that have not been stepped yet.
func (sgd *SGD) Velocities() [][]float32 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()

	out := make([][]float32, len(sgd.velocities))
	for i, v := range sgd.velocities {
		if v == nil {
			continue
		}
		out[i] = make([]float32, len(v))
		copy(out[i], v)
	}
	return out
}

// SetVelocities restores the momentum buffers, e.g. from a checkpoint.
func (sgd *SGD) SetVelocities(velocities [][]float32) error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	if len(velocities) != len(sgd.parameters) {
		return fmt.Errorf("velocity count mismatch: %d buffers for %d parameters",
			len(velocities), len(sgd.parameters))
	}
	sgd.velocities = make([][]float32, len(velocities))
	for i, v := range velocities {
		if v == nil {
			continue
		}
		sgd.velocities[i] = make([]float32, len(v))
		copy(sgd.velocities[i], v)
	}
	return nil
}

// Adam implements the Adam optimizer.
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           [][]float32 // First moment estimates
	v           [][]float32 // Second moment estimates
	mutex       sync.RWMutex
}

// AdamConfig holds the hyperparameters for Adam.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns the conventional Adam hyperparameters.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// NewAdam creates a new Adam optimizer over the given parameters.
func NewAdam(parameters []*tensor.Tensor, config AdamConfig) (*Adam, error) {
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("betas must be in [0, 1), got %f and %f", config.Beta1, config.Beta2)
	}

	return &Adam{
		parameters:  parameters,
		lr:          config.LearningRate,
		beta1:       config.Beta1,
		beta2:       config.Beta2,
		eps:         config.Epsilon,
		weightDecay: config.WeightDecay,
		m:           make([][]float32, len(parameters)),
		v:           make([][]float32, len(parameters)),
	}, nil
}

// Step performs a single optimization step.
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for i, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}
		grad := param.Grad().Data

		if adam.m[i] == nil {
			adam.m[i] = make([]float32, len(grad))
			adam.v[i] = make([]float32, len(grad))
		}
		m, v := adam.m[i], adam.v[i]

		b1, b2 := float32(adam.beta1), float32(adam.beta2)
		wd := float32(adam.weightDecay)
		for j := range grad {
			g := grad[j]
			if wd > 0 {
				g += wd * param.Data[j]
			}

			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g

			mHat := float64(m[j]) / bias1
			vHat := float64(v[j]) / bias2
			param.Data[j] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}

	return nil
}

// ZeroGrad clears gradients for all parameters.
func (adam *Adam) ZeroGrad() {
	tensor.ClearGrads(adam.parameters)
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}

// Parameters returns the parameters this optimizer updates.
func (adam *Adam) Parameters() []*tensor.Tensor {
	return adam.parameters
}

// StepCount returns the number of optimization steps taken.
func (adam *Adam) StepCount() int64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.step
}

// Moments returns copies of the first and second moment estimates, one
// buffer per parameter. Entries are nil for parameters not yet stepped.
func (adam *Adam) Moments() (m [][]float32, v [][]float32) {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()

	m = make([][]float32, len(adam.m))
	v = make([][]float32, len(adam.v))
	for i := range adam.m {
		if adam.m[i] == nil {
			continue
		}
		m[i] = make([]float32, len(adam.m[i]))
		copy(m[i], adam.m[i])
		v[i] = make([]float32, len(adam.v[i]))
		copy(v[i], adam.v[i])
	}
	return m, v
}

// SetMoments restores the moment estimates and step count, e.g. from a
// checkpoint. The step count drives bias correction, so it must be
// restored together with the moments.
func (adam *Adam) SetMoments(m [][]float32, v [][]float32, step int64) error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	if len(m) != len(adam.parameters) || len(v) != len(adam.parameters) {
		return fmt.Errorf("moment count mismatch: %d/%d buffers for %d parameters",
			len(m), len(v), len(adam.parameters))
	}
	adam.m = make([][]float32, len(m))
	adam.v = make([][]float32, len(v))
	for i := range m {
		if m[i] == nil {
			continue
		}
		adam.m[i] = make([]float32, len(m[i]))
		copy(adam.m[i], m[i])
		adam.v[i] = make([]float32, len(v[i]))
		copy(adam.v[i], v[i])
	}
	adam.step = step
	return nil
}
