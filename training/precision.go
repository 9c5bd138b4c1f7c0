package training

import (
	"fmt"

	"github.com/tsawler/go-train/tensor"
)

// Precision is the closed set of reduced-precision training modes. The zero
// value means no autocasting and no gradient scaling.
type Precision int

const (
	PrecisionUnset Precision = iota
	PrecisionFloat16
	PrecisionBFloat16
)

func (p Precision) String() string {
	switch p {
	case PrecisionUnset:
		return "unset"
	case PrecisionFloat16:
		return "fp16"
	case PrecisionBFloat16:
		return "bf16"
	default:
		return "invalid"
	}
}

// DType returns the compute dtype for the precision. ok is false for
// PrecisionUnset.
func (p Precision) DType() (dtype tensor.DType, ok bool) {
	switch p {
	case PrecisionFloat16:
		return tensor.Float16, true
	case PrecisionBFloat16:
		return tensor.BFloat16, true
	default:
		return tensor.Float32, false
	}
}

// InvalidPrecisionError reports a precision token that is not in the
// accepted set. It is returned at unit construction; an unrecognized token
// never falls back silently to full precision.
type InvalidPrecisionError struct {
	Token string
}

func (e *InvalidPrecisionError) Error() string {
	return fmt.Sprintf("precision %q not supported, use one of `fp16` or `bf16`", e.Token)
}

// ResolvePrecision maps a precision token to its Precision value. The empty
// token resolves to PrecisionUnset. Matching is exact: no case folding, no
// prefixes.
func ResolvePrecision(token string) (Precision, error) {
	switch token {
	case "":
		return PrecisionUnset, nil
	case "fp16":
		return PrecisionFloat16, nil
	case "bf16":
		return PrecisionBFloat16, nil
	default:
		return PrecisionUnset, &InvalidPrecisionError{Token: token}
	}
}

// PrecisionFromDType maps an explicit dtype to its Precision value. Only the
// two half formats are meaningful here; any other dtype is rejected so the
// precision variant stays a closed set.
func PrecisionFromDType(dtype tensor.DType) (Precision, error) {
	switch dtype {
	case tensor.Float16:
		return PrecisionFloat16, nil
	case tensor.BFloat16:
		return PrecisionBFloat16, nil
	default:
		return PrecisionUnset, fmt.Errorf("dtype %s is not a reduced-precision training format", dtype)
	}
}
