package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case BFloat16:
		return "BFloat16"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// IsHalf reports whether the dtype is one of the two 16-bit float formats.
func (d DType) IsHalf() bool {
	return d == Float16 || d == BFloat16
}

type DeviceType int

const (
	// DeviceDefault asks the runtime to pick a device based on the
	// environment. It is never stored on a tensor.
	DeviceDefault DeviceType = iota
	CPU
	GPU
)

func (d DeviceType) String() string {
	switch d {
	case DeviceDefault:
		return "Default"
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Operation is implemented by every autograd node. Backward maps the
// upstream gradient to one gradient per input, in input order.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Device       DeviceType
	Data         []float32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil when no gradient is present.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ClearGrad drops the gradient entirely. The absent state is distinct from a
// zero-filled gradient: optimizers treat nil as "no update for this
// parameter" and the storage for the old gradient can be collected.
func (t *Tensor) ClearGrad() {
	t.grad = nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// NewTensor creates a tensor with the given shape and data. Storage is
// always float32; DType records the nominal element format (half formats
// round through their 16-bit representation during autocast regions).
func NewTensor(shape []int, dtype DType, device DeviceType, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if device == DeviceDefault {
		return nil, fmt.Errorf("cannot create tensor on the default device placeholder")
	}

	numElems := calculateNumElements(shape)
	if data != nil && len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}
	if data == nil {
		data = make([]float32, numElems)
	}

	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	return NewTensor(shape, dtype, device, nil)
}

// Ones creates a tensor filled with 1.
func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	t, err := NewTensor(shape, dtype, device, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t, nil
}

// FromScalar creates a single-element tensor holding v.
func FromScalar(v float64, dtype DType, device DeviceType) *Tensor {
	t, _ := NewTensor([]int{1}, dtype, device, []float32{float32(v)})
	return t
}

// Clone returns a deep copy of the tensor data. The autograd graph and
// gradient are not copied.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)

	return &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		Device:       t.Device,
		Data:         data,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}
}

// SetData replaces the tensor contents in place.
func (t *Tensor) SetData(data []float32) error {
	if len(data) != t.NumElems {
		return fmt.Errorf("data length %d does not match tensor with %d elements", len(data), t.NumElems)
	}
	copy(t.Data, data)
	return nil
}

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

// To moves the tensor to the given device. A tensor already resident on the
// target device is returned unchanged, making repeated placement idempotent.
func (t *Tensor) To(device DeviceType) (*Tensor, error) {
	if device == DeviceDefault {
		return nil, fmt.Errorf("cannot move tensor to the default device placeholder")
	}
	if t.Device == device {
		return t, nil
	}

	moved := t.Clone()
	moved.Device = device
	return moved, nil
}

// Detach returns a view of the data cut off from the autograd graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		DType:    t.DType,
		Device:   t.Device,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
