package tensor

import (
	"fmt"
)

// reduceToShape sums a gradient down to the target shape. Needed when the
// forward pass broadcast a trailing vector: the vector's gradient is the
// column sum of the upstream gradient.
func reduceToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad, nil
	}

	// Scalar target: sum everything.
	if len(targetShape) == 1 && targetShape[0] == 1 {
		return Sum(grad)
	}

	// Trailing-vector target [n] from grad [..., n].
	if len(targetShape) == 1 && targetShape[0] == grad.Shape[len(grad.Shape)-1] {
		n := targetShape[0]
		result, err := Zeros(targetShape, grad.DType, grad.Device)
		if err != nil {
			return nil, err
		}
		for i, v := range grad.Data {
			result.Data[i%n] += v
		}
		return result, nil
	}

	return nil, fmt.Errorf("cannot reduce gradient of shape %v to %v", grad.Shape, targetShape)
}

func setCreator(result *Tensor, op Operation, inputs ...*Tensor) {
	for _, in := range inputs {
		if in.requiresGrad || in.creator != nil {
			result.requiresGrad = true
			result.creator = op
			return
		}
	}
}

// addOp: c = a + b
type addOp struct {
	a, b *Tensor
}

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceToShape(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(gradOut, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddAutograd computes a + b and records the operation for backprop.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	setCreator(result, &addOp{a: a, b: b}, a, b)
	return result, nil
}

// subOp: c = a - b
type subOp struct {
	a, b *Tensor
}

func (op *subOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *subOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceToShape(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	negated, err := MulScalar(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(negated, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubAutograd computes a - b and records the operation for backprop.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	setCreator(result, &subOp{a: a, b: b}, a, b)
	return result, nil
}

// mulOp: c = a * b (elementwise)
type mulOp struct {
	a, b *Tensor
}

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	rawA, err := Mul(gradOut, op.b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceToShape(rawA, op.a.Shape)
	if err != nil {
		return nil, err
	}

	rawB, err := Mul(gradOut, op.a)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(rawB, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd computes a * b elementwise and records the operation for
// backprop.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	setCreator(result, &mulOp{a: a, b: b}, a, b)
	return result, nil
}

// mulScalarOp: c = a * s. The gradient is scaled by the same factor, which
// is what makes loss scaling propagate into parameter gradients.
type mulScalarOp struct {
	a *Tensor
	s float32
}

func (op *mulScalarOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *mulScalarOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := MulScalar(gradOut, op.s)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA}, nil
}

// MulScalarAutograd computes a * s and records the operation for backprop.
func MulScalarAutograd(a *Tensor, s float32) (*Tensor, error) {
	result, err := MulScalar(a, s)
	if err != nil {
		return nil, err
	}
	setCreator(result, &mulScalarOp{a: a, s: s}, a)
	return result, nil
}

// matMulOp: C = A @ B with gradA = gradC @ B^T and gradB = A^T @ gradC.
type matMulOp struct {
	a, b *Tensor
}

func (op *matMulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *matMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	bT, err := Transpose(op.b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}

	aT, err := Transpose(op.a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMulAutograd computes the 2D matrix product and records the operation
// for backprop.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	setCreator(result, &matMulOp{a: a, b: b}, a, b)
	return result, nil
}

// meanOp: c = mean(a). The gradient spreads 1/N of the upstream value to
// every element.
type meanOp struct {
	a *Tensor
}

func (op *meanOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *meanOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := gradOut.Item()
	if err != nil {
		return nil, err
	}
	gradA, err := Zeros(op.a.Shape, op.a.DType, op.a.Device)
	if err != nil {
		return nil, err
	}
	per := g / float32(op.a.NumElems)
	for i := range gradA.Data {
		gradA.Data[i] = per
	}
	return []*Tensor{gradA}, nil
}

// MeanAutograd reduces to the average and records the operation for
// backprop.
func MeanAutograd(a *Tensor) (*Tensor, error) {
	result, err := Mean(a)
	if err != nil {
		return nil, err
	}
	setCreator(result, &meanOp{a: a}, a)
	return result, nil
}

// sumOp: c = sum(a). The gradient broadcasts unchanged to every element.
type sumOp struct {
	a *Tensor
}

func (op *sumOp) Inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := gradOut.Item()
	if err != nil {
		return nil, err
	}
	gradA, err := Zeros(op.a.Shape, op.a.DType, op.a.Device)
	if err != nil {
		return nil, err
	}
	for i := range gradA.Data {
		gradA.Data[i] = g
	}
	return []*Tensor{gradA}, nil
}

// SumAutograd reduces to the total and records the operation for backprop.
func SumAutograd(a *Tensor) (*Tensor, error) {
	result, err := Sum(a)
	if err != nil {
		return nil, err
	}
	setCreator(result, &sumOp{a: a}, a)
	return result, nil
}

// Backward runs backpropagation from t, seeding with a gradient of ones.
// Gradients accumulate only on leaf tensors that require grad; intermediate
// results pass gradients through without retaining them.
func (t *Tensor) Backward() error {
	if t.creator == nil && !t.requiresGrad {
		return fmt.Errorf("tensor does not require grad and has no autograd graph")
	}
	seed, err := Ones(t.Shape, t.DType, t.Device)
	if err != nil {
		return err
	}
	return t.backprop(seed)
}

func (t *Tensor) backprop(grad *Tensor) error {
	if t.creator == nil {
		if !t.requiresGrad {
			return nil
		}
		if t.grad == nil {
			t.grad = grad.Clone()
			t.grad.requiresGrad = false
			return nil
		}
		for i := range t.grad.Data {
			t.grad.Data[i] += grad.Data[i]
		}
		return nil
	}

	grads, err := t.creator.Backward(grad)
	if err != nil {
		return fmt.Errorf("backward pass failed: %v", err)
	}
	inputs := t.creator.Inputs()
	if len(grads) != len(inputs) {
		return fmt.Errorf("backward produced %d gradients for %d inputs", len(grads), len(inputs))
	}
	for i, in := range inputs {
		if grads[i] == nil {
			continue
		}
		if err := in.backprop(grads[i]); err != nil {
			return err
		}
	}
	return nil
}

// ZeroGrads zero-fills existing gradients in place, keeping their storage.
func ZeroGrads(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			for i := range t.grad.Data {
				t.grad.Data[i] = 0
			}
		}
	}
}

// ClearGrads moves all gradients to the absent state (nil), releasing their
// storage rather than retaining zero tensors.
func ClearGrads(tensors []*Tensor) {
	for _, t := range tensors {
		t.ClearGrad()
	}
}
