package training

import (
	"fmt"

	"github.com/tsawler/go-train/tensor"
)

// SubsetDataset exposes only the first N samples of an underlying dataset.
// Useful for smoke runs and for training on a fixed slice of a larger set.
type SubsetDataset struct {
	source Dataset
	limit  int
}

// NewSubsetDataset wraps an existing dataset and caps its length at limit.
// A limit larger than the source length is clamped to the source length.
func NewSubsetDataset(source Dataset, limit int) (*SubsetDataset, error) {
	if source == nil {
		return nil, fmt.Errorf("source dataset cannot be nil")
	}
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative, got %d", limit)
	}
	if limit > source.Len() {
		limit = source.Len()
	}
	return &SubsetDataset{source: source, limit: limit}, nil
}

// Len returns the capped number of samples
func (sd *SubsetDataset) Len() int {
	return sd.limit
}

// Get returns the sample at idx from the underlying dataset
func (sd *SubsetDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= sd.limit {
		return nil, nil, fmt.Errorf("index %d out of range for subset of %d samples", idx, sd.limit)
	}
	return sd.source.Get(idx)
}
