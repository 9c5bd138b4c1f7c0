package tensor

import (
	"errors"
	"math"
	"testing"
)

func TestF16RoundTrip(t *testing.T) {
	tests := []float32{0, 1, -1, 0.5, 2, 1024, -0.25, 65504}

	for _, v := range tests {
		got := NewF16(v).Float32()
		if got != v {
			t.Errorf("F16 round trip of %f = %f", v, got)
		}
	}
}

func TestF16Overflow(t *testing.T) {
	// Largest fp16 value is 65504; anything bigger saturates to infinity
	got := NewF16(70000).Float32()
	if !math.IsInf(float64(got), 1) {
		t.Errorf("NewF16(70000) = %f, expected +Inf", got)
	}

	got = NewF16(-70000).Float32()
	if !math.IsInf(float64(got), -1) {
		t.Errorf("NewF16(-70000) = %f, expected -Inf", got)
	}
}

func TestF16SpecialValues(t *testing.T) {
	if got := NewF16(float32(math.Inf(1))).Float32(); !math.IsInf(float64(got), 1) {
		t.Errorf("+Inf became %f", got)
	}
	if got := NewF16(float32(math.Inf(-1))).Float32(); !math.IsInf(float64(got), -1) {
		t.Errorf("-Inf became %f", got)
	}
	if got := NewF16(float32(math.NaN())).Float32(); !math.IsNaN(float64(got)) {
		t.Errorf("NaN became %f", got)
	}
}

func TestF16Subnormal(t *testing.T) {
	// Smallest fp16 subnormal is 2^-24
	tiny := float32(math.Pow(2, -24))
	got := NewF16(tiny).Float32()
	if got != tiny {
		t.Errorf("subnormal round trip of %g = %g", tiny, got)
	}

	// Below the subnormal range flushes to zero
	if got := NewF16(1e-10).Float32(); got != 0 {
		t.Errorf("NewF16(1e-10) = %g, expected 0", got)
	}
}

func TestBF16RoundTrip(t *testing.T) {
	// All values here fit in the 8-bit bf16 significand, so the round trip
	// is exact. Power-of-two scaling covers the wide exponent range.
	tests := []float32{0, 1, -1, 0.5, 2, 65536, 0x1p100, -0x1p100, 1.5 * 0x1p-100}

	for _, v := range tests {
		got := NewBF16(v).Float32()
		if got != v {
			t.Errorf("BF16 round trip of %g = %g", v, got)
		}
	}
}

func TestBF16RoundsInexactValues(t *testing.T) {
	// 1e30 needs more significand bits than bf16 has; the conversion lands
	// on a neighbor within half a unit in the last place (2^-8 relative)
	for _, v := range []float32{1e30, -1e30} {
		got := NewBF16(v).Float32()
		relErr := math.Abs(float64(got-v)) / math.Abs(float64(v))
		if relErr > 1.0/256.0 {
			t.Errorf("BF16 of %g = %g, relative error %g too large", v, got, relErr)
		}
	}
}

func TestBF16KeepsFloat32Range(t *testing.T) {
	// 1e38 overflows fp16 by a wide margin but fits in bf16
	got := NewBF16(1e38).Float32()
	if math.IsInf(float64(got), 0) {
		t.Error("bf16 should represent 1e38 without overflow")
	}
}

func TestBF16Rounding(t *testing.T) {
	// 1 + 2^-8 is below bf16 mantissa resolution and rounds back to 1
	v := float32(1.0 + 1.0/256.0)
	got := NewBF16(v).Float32()
	if got != 1.0 && got != float32(1.0+1.0/128.0) {
		t.Errorf("NewBF16(%g) = %g, expected a neighboring representable value", v, got)
	}

	if got := NewBF16(float32(math.NaN())).Float32(); !math.IsNaN(float64(got)) {
		t.Errorf("NaN became %g", got)
	}
}

func TestWithAutocast(t *testing.T) {
	if AutocastActive() {
		t.Fatal("autocast should be inactive by default")
	}

	err := WithAutocast(Float16, func() error {
		if !AutocastActive() {
			t.Error("autocast should be active inside the region")
		}
		// 1/3 is not representable in fp16; results get rounded
		if castCompute(1.0/3.0) == 1.0/3.0 {
			t.Error("castCompute should round through fp16 inside the region")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithAutocast failed: %v", err)
	}

	if AutocastActive() {
		t.Error("autocast should be restored after the region")
	}
	if castCompute(1.0/3.0) != 1.0/3.0 {
		t.Error("castCompute should be the identity outside a region")
	}
}

func TestWithAutocastNonHalfRunsUnchanged(t *testing.T) {
	err := WithAutocast(Float32, func() error {
		if AutocastActive() {
			t.Error("Float32 should not activate autocast")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithAutocast failed: %v", err)
	}
}

func TestWithAutocastPropagatesError(t *testing.T) {
	wantErr := errors.New("forward failed")
	err := WithAutocast(Float16, func() error { return wantErr })
	if err != wantErr {
		t.Errorf("WithAutocast returned %v, expected the callback error", err)
	}
	if AutocastActive() {
		t.Error("autocast should be restored after an error")
	}
}
