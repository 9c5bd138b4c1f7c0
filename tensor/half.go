package tensor

import "math"

// F16 is an IEEE 754 half-precision (16-bit) floating-point value.
type F16 uint16

// NewF16 converts a float32 to F16, rounding by truncation of the mantissa.
func NewF16(f float32) F16 {
	bits := math.Float32bits(f)
	sign := (bits >> 16) & 0x8000
	exp := int((bits>>23)&0xFF) - 127
	frac := bits & 0x7FFFFF

	switch {
	case exp == 128:
		// Inf or NaN
		if frac == 0 {
			return F16(sign | 0x7C00)
		}
		return F16(sign | 0x7C00 | (frac >> 13) | 1)
	case exp > 15:
		// Overflow, saturate to infinity
		return F16(sign | 0x7C00)
	case exp > -15:
		return F16(sign | uint32(exp+15)<<10 | (frac >> 13))
	case exp >= -24:
		// Subnormal
		frac |= 0x800000
		shift := uint(-14 - exp)
		return F16(sign | (frac >> (shift + 13)))
	default:
		// Underflow to signed zero
		return F16(sign)
	}
}

// Float32 converts an F16 back to float32.
func (f F16) Float32() float32 {
	sign := uint32(f&0x8000) << 16
	exp := uint32(f>>10) & 0x1F
	frac := uint32(f) & 0x3FF

	switch {
	case exp == 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: value = frac * 2^-24
		return signFactor(sign) * float32(frac) / (1 << 24)
	case exp == 0x1F:
		if frac == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7F800000 | (frac << 13) | 1)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | (frac << 13))
	}
}

func signFactor(sign uint32) float32 {
	if sign != 0 {
		return -1
	}
	return 1
}

// BF16 is a 16-bit brain floating point value: the upper 16 bits of a
// float32, so it keeps the full float32 exponent range with a 7-bit
// mantissa.
type BF16 uint16

// NewBF16 converts a float32 to BF16 with round-to-nearest-even.
func NewBF16(f float32) BF16 {
	bits := math.Float32bits(f)

	// NaN must stay NaN after truncation.
	if bits&0x7F800000 == 0x7F800000 && bits&0x7FFFFF != 0 {
		return BF16((bits >> 16) | 0x40)
	}

	// Round to nearest even on the truncated bits.
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return BF16((bits + rounding) >> 16)
}

// Float32 converts a BF16 back to float32 by restoring the low 16 bits as
// zero.
func (b BF16) Float32() float32 {
	return math.Float32frombits(uint32(b) << 16)
}

// roundToHalf rounds a float32 through the given 16-bit representation.
// Values outside the fp16 range saturate to infinity, which is exactly the
// overflow behavior gradient scaling exists to compensate for.
func roundToHalf(v float32, dtype DType) float32 {
	switch dtype {
	case Float16:
		return NewF16(v).Float32()
	case BFloat16:
		return NewBF16(v).Float32()
	default:
		return v
	}
}

// autocastDType is the reduced-precision compute format for the enclosing
// autocast region, or Float32 when no region is active. It is process-global
// state, not goroutine-local: concurrent forward passes need external
// synchronization, per the concurrency contract on training.AutoTrainUnit.
var autocastDType = Float32

// WithAutocast runs fn with op results rounded through dtype. Only the
// forward computation inside fn runs reduced; gradients computed by a later
// Backward call accumulate in full precision, because the region has already
// been exited.
func WithAutocast(dtype DType, fn func() error) error {
	if !dtype.IsHalf() {
		return fn()
	}
	prev := autocastDType
	autocastDType = dtype
	defer func() { autocastDType = prev }()
	return fn()
}

// AutocastActive reports whether a reduced-precision region is active.
func AutocastActive() bool {
	return autocastDType.IsHalf()
}

func castCompute(v float32) float32 {
	return roundToHalf(v, autocastDType)
}
