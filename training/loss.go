package training

import (
	"fmt"

	"github.com/tsawler/go-train/tensor"
)

// MSELoss computes the mean squared error between predicted and target,
// recording the computation for backprop.
func MSELoss(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.SubAutograd(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("loss difference failed: %v", err)
	}
	squared, err := tensor.MulAutograd(diff, diff)
	if err != nil {
		return nil, fmt.Errorf("loss squaring failed: %v", err)
	}
	loss, err := tensor.MeanAutograd(squared)
	if err != nil {
		return nil, fmt.Errorf("loss reduction failed: %v", err)
	}
	return loss, nil
}

// L1Loss computes the mean absolute error between predicted and target. The
// absolute value is built from the sign of the difference, so gradients
// flow as ±1 per element.
func L1Loss(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.SubAutograd(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("loss difference failed: %v", err)
	}

	signs, err := tensor.Zeros(diff.Shape, diff.DType, diff.Device)
	if err != nil {
		return nil, err
	}
	for i, v := range diff.Data {
		if v < 0 {
			signs.Data[i] = -1
		} else {
			signs.Data[i] = 1
		}
	}

	abs, err := tensor.MulAutograd(diff, signs)
	if err != nil {
		return nil, fmt.Errorf("loss absolute value failed: %v", err)
	}
	loss, err := tensor.MeanAutograd(abs)
	if err != nil {
		return nil, fmt.Errorf("loss reduction failed: %v", err)
	}
	return loss, nil
}
