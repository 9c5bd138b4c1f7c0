package training

import (
	"fmt"

	"github.com/tsawler/go-train/tensor"
)

// RandomRegressionDataset generates a fixed linear regression problem with
// Gaussian noise. Useful for smoke-testing a training loop without real
// data.
type RandomRegressionDataset struct {
	features []*tensor.Tensor
	targets  []*tensor.Tensor
}

// NewRandomRegressionDataset builds a dataset of numSamples rows with
// numFeatures inputs each. Targets are a random linear function of the
// inputs plus noise of the given standard deviation.
func NewRandomRegressionDataset(numSamples, numFeatures int, noise float64) (*RandomRegressionDataset, error) {
	if numSamples <= 0 || numFeatures <= 0 {
		return nil, fmt.Errorf("dataset dimensions must be positive, got %d samples of %d features",
			numSamples, numFeatures)
	}

	trueWeights := make([]float32, numFeatures)
	for i := range trueWeights {
		trueWeights[i] = float32(globalRng.NormFloat64())
	}

	ds := &RandomRegressionDataset{
		features: make([]*tensor.Tensor, numSamples),
		targets:  make([]*tensor.Tensor, numSamples),
	}
	for i := 0; i < numSamples; i++ {
		row := make([]float32, numFeatures)
		var y float32
		for j := range row {
			row[j] = float32(globalRng.NormFloat64())
			y += trueWeights[j] * row[j]
		}
		y += float32(globalRng.NormFloat64() * noise)

		x, err := tensor.NewTensor([]int{numFeatures}, tensor.Float32, tensor.CPU, row)
		if err != nil {
			return nil, err
		}
		t, err := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{y})
		if err != nil {
			return nil, err
		}
		ds.features[i] = x
		ds.targets[i] = t
	}
	return ds, nil
}

// Len returns the number of samples
func (ds *RandomRegressionDataset) Len() int {
	return len(ds.features)
}

// Get returns a single sample
func (ds *RandomRegressionDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(ds.features) {
		return nil, nil, fmt.Errorf("index %d out of range for dataset of %d samples", idx, len(ds.features))
	}
	return ds.features[idx], ds.targets[idx], nil
}
