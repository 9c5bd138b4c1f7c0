package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-train/tensor"
)

// RegressionMetrics holds evaluation metrics for regression tasks
type RegressionMetrics struct {
	MAE  float64 // Mean Absolute Error
	MSE  float64 // Mean Squared Error
	RMSE float64 // Root Mean Squared Error
	R2   float64 // R-squared
}

// MetricTracker accumulates prediction/target pairs across batches and
// computes running regression metrics. It is intended to be fed from an
// UpdateMetrics hook and read back at epoch boundaries.
type MetricTracker struct {
	count     int
	sumAbsErr float64
	sumSqErr  float64
	sumTrue   float64
	sumTrueSq float64
}

// NewMetricTracker creates an empty metric tracker
func NewMetricTracker() *MetricTracker {
	return &MetricTracker{}
}

// Update accumulates a batch of predictions against their targets
func (mt *MetricTracker) Update(predictions, targets []float32) error {
	if len(predictions) != len(targets) {
		return fmt.Errorf("predictions length %d does not match targets length %d",
			len(predictions), len(targets))
	}

	for i := range predictions {
		pred := float64(predictions[i])
		target := float64(targets[i])
		diff := pred - target

		mt.sumAbsErr += math.Abs(diff)
		mt.sumSqErr += diff * diff
		mt.sumTrue += target
		mt.sumTrueSq += target * target
	}
	mt.count += len(predictions)

	return nil
}

// UpdateFromTensors accumulates a batch given as tensors
func (mt *MetricTracker) UpdateFromTensors(predictions, targets *tensor.Tensor) error {
	if predictions == nil || targets == nil {
		return fmt.Errorf("predictions and targets cannot be nil")
	}
	return mt.Update(predictions.Data, targets.Data)
}

// Count returns the number of samples accumulated so far
func (mt *MetricTracker) Count() int {
	return mt.count
}

// Compute returns the metrics over everything accumulated since the last
// Reset. With no samples it returns zero metrics.
func (mt *MetricTracker) Compute() RegressionMetrics {
	if mt.count == 0 {
		return RegressionMetrics{}
	}

	n := float64(mt.count)
	mae := mt.sumAbsErr / n
	mse := mt.sumSqErr / n
	rmse := math.Sqrt(mse)

	// Total sum of squares around the target mean
	meanTrue := mt.sumTrue / n
	sumSqTotal := mt.sumTrueSq - n*meanTrue*meanTrue

	r2 := 0.0
	if sumSqTotal > 0 {
		r2 = 1.0 - (mt.sumSqErr / sumSqTotal)
	}

	return RegressionMetrics{
		MAE:  mae,
		MSE:  mse,
		RMSE: rmse,
		R2:   r2,
	}
}

// Reset clears all accumulated state
func (mt *MetricTracker) Reset() {
	*mt = MetricTracker{}
}
