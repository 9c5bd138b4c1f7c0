package tensor

import (
	"fmt"
	"math"
)

// broadcastable reports whether b can be broadcast against a. Only the
// trailing-vector case is supported (a of shape [..., n], b of shape [n]),
// which is what bias addition needs.
func broadcastable(a, b *Tensor) bool {
	return len(b.Shape) == 1 && b.Shape[0] == a.Shape[len(a.Shape)-1]
}

func elementwise(a, b *Tensor, op string, f func(x, y float32) float32) (*Tensor, error) {
	if a.Device != b.Device {
		return nil, fmt.Errorf("%s requires tensors on the same device, got %s and %s", op, a.Device, b.Device)
	}

	if shapesEqual(a.Shape, b.Shape) {
		result, err := Zeros(a.Shape, a.DType, a.Device)
		if err != nil {
			return nil, err
		}
		for i := range a.Data {
			result.Data[i] = castCompute(f(a.Data[i], b.Data[i]))
		}
		return result, nil
	}

	if broadcastable(a, b) {
		result, err := Zeros(a.Shape, a.DType, a.Device)
		if err != nil {
			return nil, err
		}
		n := b.Shape[0]
		for i := range a.Data {
			result.Data[i] = castCompute(f(a.Data[i], b.Data[i%n]))
		}
		return result, nil
	}

	return nil, fmt.Errorf("%s shape mismatch: %v vs %v", op, a.Shape, b.Shape)
}

// Add computes a + b elementwise, broadcasting a trailing vector b.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, "Add", func(x, y float32) float32 { return x + y })
}

// Sub computes a - b elementwise, broadcasting a trailing vector b.
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, "Sub", func(x, y float32) float32 { return x - y })
}

// Mul computes a * b elementwise, broadcasting a trailing vector b.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, "Mul", func(x, y float32) float32 { return x * y })
}

// Div computes a / b elementwise.
func Div(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, "Div", func(x, y float32) float32 { return x / y })
}

// MulScalar computes a * s elementwise.
func MulScalar(a *Tensor, s float32) (*Tensor, error) {
	result, err := Zeros(a.Shape, a.DType, a.Device)
	if err != nil {
		return nil, err
	}
	for i := range a.Data {
		result.Data[i] = castCompute(a.Data[i] * s)
	}
	return result, nil
}

// Sqrt computes the elementwise square root.
func Sqrt(a *Tensor) (*Tensor, error) {
	result, err := Zeros(a.Shape, a.DType, a.Device)
	if err != nil {
		return nil, err
	}
	for i := range a.Data {
		result.Data[i] = castCompute(float32(math.Sqrt(float64(a.Data[i]))))
	}
	return result, nil
}

// MatMul computes the 2D matrix product of a [m,k] and b [k,n].
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Device != b.Device {
		return nil, fmt.Errorf("MatMul requires tensors on the same device, got %s and %s", a.Device, b.Device)
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("MatMul inner dimension mismatch: %v vs %v", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	result, err := Zeros([]int{m, n}, a.DType, a.Device)
	if err != nil {
		return nil, err
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var sum float32
			for p := 0; p < k; p++ {
				sum = castCompute(sum + castCompute(a.Data[i*k+p]*b.Data[p*n+j]))
			}
			result.Data[i*n+j] = sum
		}
	}
	return result, nil
}

// Transpose returns the transpose of a 2D tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got %v", a.Shape)
	}

	m, n := a.Shape[0], a.Shape[1]
	result, err := Zeros([]int{n, m}, a.DType, a.Device)
	if err != nil {
		return nil, err
	}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			result.Data[j*m+i] = a.Data[i*n+j]
		}
	}
	return result, nil
}

// Sum reduces all elements to a single-element tensor.
func Sum(a *Tensor) (*Tensor, error) {
	var sum float32
	for _, v := range a.Data {
		sum = castCompute(sum + v)
	}
	return NewTensor([]int{1}, a.DType, a.Device, []float32{sum})
}

// Mean reduces all elements to their average as a single-element tensor.
func Mean(a *Tensor) (*Tensor, error) {
	s, err := Sum(a)
	if err != nil {
		return nil, err
	}
	s.Data[0] = castCompute(s.Data[0] / float32(a.NumElems))
	return s, nil
}

// HasNonFinite reports whether the tensor contains an Inf or NaN value.
// The grad scaler uses this to detect overflow after the backward pass.
func (t *Tensor) HasNonFinite() bool {
	for _, v := range t.Data {
		f := float64(v)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return true
		}
	}
	return false
}
