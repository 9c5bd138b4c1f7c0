package training

import (
	"github.com/klauspost/cpuid/v2"

	"github.com/tsawler/go-train/tensor"
)

// DefaultDevice picks the compute device from the environment. Accelerator
// backends register themselves at init time; without one the host CPU is
// the device.
func DefaultDevice() tensor.DeviceType {
	if acceleratorAvailable {
		return tensor.GPU
	}
	return tensor.CPU
}

var acceleratorAvailable bool

// RegisterAccelerator marks an accelerator backend as present, making GPU
// the environment-detected default. Called from a backend's init.
func RegisterAccelerator() {
	acceleratorAvailable = true
}

// SupportsFastHalf reports whether the host CPU can convert between float16
// and float32 in hardware. Reduced-precision training still works without
// it, just slower, so callers use this for diagnostics rather than gating.
func SupportsFastHalf() bool {
	return cpuid.CPU.Supports(cpuid.F16C) || cpuid.CPU.Supports(cpuid.FPHP)
}

// CPUFeatureSummary returns a short description of the host CPU for
// startup logging.
func CPUFeatureSummary() string {
	return cpuid.CPU.BrandName
}
