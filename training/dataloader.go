package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-train/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// Batch represents a batch of data and labels
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// To moves both tensors of the batch to the given device. Tensors already
// resident on the device are reused unchanged.
func (b *Batch) To(device tensor.DeviceType) (*Batch, error) {
	data, err := b.Data.To(device)
	if err != nil {
		return nil, fmt.Errorf("failed to move batch data: %v", err)
	}
	labels, err := b.Labels.To(device)
	if err != nil {
		return nil, fmt.Errorf("failed to move batch labels: %v", err)
	}
	if data == b.Data && labels == b.Labels {
		return b, nil
	}
	return &Batch{Data: data, Labels: labels}, nil
}

// DataLoader provides batching and shuffling over a Dataset.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	rng       *rand.Rand
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		indices:   indices,
		rng:       rand.New(rand.NewSource(1)),
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader to the start of an epoch, reshuffling when
// shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch, or ok=false at the end of the epoch. Samples
// are stacked along a new leading batch dimension.
func (dl *DataLoader) Next() (*Batch, bool, error) {
	if dl.position >= len(dl.indices) {
		return nil, false, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}

	var dataRows, labelRows []*tensor.Tensor
	for _, idx := range dl.indices[dl.position:end] {
		data, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch sample %d: %v", idx, err)
		}
		dataRows = append(dataRows, data)
		labelRows = append(labelRows, label)
	}
	dl.position = end

	data, err := stackRows(dataRows)
	if err != nil {
		return nil, false, fmt.Errorf("failed to stack batch data: %v", err)
	}
	labels, err := stackRows(labelRows)
	if err != nil {
		return nil, false, fmt.Errorf("failed to stack batch labels: %v", err)
	}

	return &Batch{Data: data, Labels: labels}, true, nil
}

// stackRows concatenates equally shaped 1D sample tensors into a
// [batch, features] tensor.
func stackRows(rows []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("cannot stack an empty batch")
	}

	features := rows[0].NumElems
	data := make([]float32, 0, len(rows)*features)
	for i, row := range rows {
		if row.NumElems != features {
			return nil, fmt.Errorf("sample %d has %d elements, expected %d", i, row.NumElems, features)
		}
		data = append(data, row.Data...)
	}

	return tensor.NewTensor([]int{len(rows), features}, rows[0].DType, rows[0].Device, data)
}
