package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tsawler/go-train/checkpoints"
)

// CheckpointConfig configures checkpoint saving behavior
type CheckpointConfig struct {
	SaveDirectory   string                       // Directory to save checkpoints
	SaveFrequency   int                          // Save every N epochs (0 = disabled)
	SaveBest        bool                         // Save checkpoint when loss improves
	MaxCheckpoints  int                          // Maximum number of checkpoints to keep (0 = unlimited)
	Format          checkpoints.CheckpointFormat // JSON or Proto
	FilenamePattern string                       // Pattern for checkpoint filenames
}

// DefaultCheckpointConfig returns a sensible default configuration
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory:   "./checkpoints",
		SaveFrequency:   5, // Save every 5 epochs
		SaveBest:        true,
		MaxCheckpoints:  10,
		Format:          checkpoints.FormatJSON,
		FilenamePattern: "checkpoint_epoch_%d_step_%d",
	}
}

// scalerState is the slice of the Scaler surface checkpointing needs.
// Both GradScaler and ShardedGradScaler satisfy it.
type scalerState interface {
	ScaleValue() float64
	GoodSteps() int
	SetState(scale float64, goodSteps int) error
}

// CheckpointManager handles checkpoint saving and loading for an
// AutoTrainUnit
type CheckpointManager struct {
	config     CheckpointConfig
	unit       *AutoTrainUnit
	saver      *checkpoints.CheckpointSaver
	bestLoss   float32
	savedFiles []string // Track saved checkpoint files for cleanup
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(unit *AutoTrainUnit, config CheckpointConfig) *CheckpointManager {
	return &CheckpointManager{
		config:     config,
		unit:       unit,
		saver:      checkpoints.NewCheckpointSaver(config.Format),
		bestLoss:   float32(1e9),
		savedFiles: make([]string, 0),
	}
}

// SaveCheckpoint saves the current unit state
func (cm *CheckpointManager) SaveCheckpoint(state *State, description string) error {
	checkpoint, err := cm.createCheckpoint(state, description)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %v", err)
	}

	filename := cm.generateFilename(state)
	path := filepath.Join(cm.config.SaveDirectory, filename)

	if err := os.MkdirAll(cm.config.SaveDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %v", err)
	}

	cm.savedFiles = append(cm.savedFiles, path)

	if err := cm.cleanupOldCheckpoints(); err != nil {
		// Log warning but don't fail the save operation
		fmt.Printf("Warning: failed to cleanup old checkpoints: %v\n", err)
	}

	return nil
}

// SaveBestCheckpoint saves a checkpoint if the loss is better than the
// previous best. Returns true when a checkpoint was written.
func (cm *CheckpointManager) SaveBestCheckpoint(state *State, loss float32) (bool, error) {
	if !cm.config.SaveBest {
		return false, nil
	}

	if loss >= cm.bestLoss {
		return false, nil
	}
	cm.bestLoss = loss

	description := fmt.Sprintf("Best checkpoint - Loss: %.6f", loss)
	filename := fmt.Sprintf("best_checkpoint.%s", cm.getFileExtension())
	path := filepath.Join(cm.config.SaveDirectory, filename)

	checkpoint, err := cm.createCheckpoint(state, description)
	if err != nil {
		return false, fmt.Errorf("failed to create best checkpoint: %v", err)
	}

	if err := os.MkdirAll(cm.config.SaveDirectory, 0755); err != nil {
		return false, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	if err := cm.saver.SaveCheckpoint(checkpoint, path); err != nil {
		return false, fmt.Errorf("failed to save best checkpoint: %v", err)
	}

	return true, nil
}

// SavePeriodicCheckpoint saves a checkpoint if the completed-epoch count
// has reached the configured frequency. Intended to be called from an
// epoch-end hook.
func (cm *CheckpointManager) SavePeriodicCheckpoint(state *State) (bool, error) {
	if cm.config.SaveFrequency <= 0 {
		return false, nil
	}

	epoch := state.Train.Progress.NumEpochsCompleted
	if epoch%uint64(cm.config.SaveFrequency) != 0 {
		return false, nil
	}

	description := fmt.Sprintf("Periodic checkpoint - Epoch %d", epoch)
	if err := cm.SaveCheckpoint(state, description); err != nil {
		return false, err
	}
	return true, nil
}

// LoadCheckpoint loads a checkpoint and restores the unit and the
// progress counters in state
func (cm *CheckpointManager) LoadCheckpoint(path string, state *State) error {
	checkpoint, err := cm.saver.LoadCheckpoint(path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %v", err)
	}

	if err := cm.restoreFromCheckpoint(checkpoint, state); err != nil {
		return fmt.Errorf("failed to restore unit state: %v", err)
	}

	return nil
}

// createCheckpoint snapshots the unit into a checkpoint
func (cm *CheckpointManager) createCheckpoint(state *State, description string) (*checkpoints.Checkpoint, error) {
	if err := state.validate(); err != nil {
		return nil, err
	}

	params := cm.unit.Module().Parameters()
	weights := make([]checkpoints.WeightTensor, 0, len(params))
	for i, param := range params {
		data := make([]float32, len(param.Data))
		copy(data, param.Data)
		shape := make([]int, len(param.Shape))
		copy(shape, param.Shape)
		weights = append(weights, checkpoints.WeightTensor{
			Name:  fmt.Sprintf("param_%d", i),
			Shape: shape,
			Data:  data,
		})
	}

	checkpoint := &checkpoints.Checkpoint{
		Weights: weights,
		Progress: checkpoints.Progress{
			EpochsCompleted: state.Train.Progress.NumEpochsCompleted,
			StepsCompleted:  state.Train.Progress.NumStepsCompleted,
			LearningRate:    cm.unit.Optimizer().GetLR(),
		},
		OptimizerState: captureOptimizerState(cm.unit.Optimizer()),
		Metadata: checkpoints.CheckpointMetadata{
			Precision:   cm.unit.Precision().String(),
			Description: description,
			Tags:        []string{fmt.Sprintf("epoch_%d", state.Train.Progress.NumEpochsCompleted)},
		},
	}

	if sc, ok := cm.unit.Scaler().(scalerState); ok {
		checkpoint.ScalerState = &checkpoints.ScalerState{
			Scale:     sc.ScaleValue(),
			GoodSteps: sc.GoodSteps(),
		}
	}

	return checkpoint, nil
}

// restoreFromCheckpoint loads a checkpoint back into the unit
func (cm *CheckpointManager) restoreFromCheckpoint(checkpoint *checkpoints.Checkpoint, state *State) error {
	if err := state.validate(); err != nil {
		return err
	}

	params := cm.unit.Module().Parameters()
	if len(checkpoint.Weights) != len(params) {
		return fmt.Errorf("weight count mismatch: %d weights for %d parameters",
			len(checkpoint.Weights), len(params))
	}
	for i, weight := range checkpoint.Weights {
		if len(weight.Data) != len(params[i].Data) {
			return fmt.Errorf("size mismatch for %s: %d values for %d elements",
				weight.Name, len(weight.Data), len(params[i].Data))
		}
		copy(params[i].Data, weight.Data)
	}

	state.Train.Progress.NumEpochsCompleted = checkpoint.Progress.EpochsCompleted
	state.Train.Progress.NumStepsCompleted = checkpoint.Progress.StepsCompleted
	if checkpoint.Progress.LearningRate > 0 {
		cm.unit.Optimizer().SetLR(checkpoint.Progress.LearningRate)
	}

	if checkpoint.OptimizerState != nil {
		if err := restoreOptimizerState(cm.unit.Optimizer(), checkpoint.OptimizerState); err != nil {
			return fmt.Errorf("failed to restore optimizer state: %v", err)
		}
	}

	if checkpoint.ScalerState != nil {
		sc, ok := cm.unit.Scaler().(scalerState)
		if !ok {
			return fmt.Errorf("checkpoint carries scaler state but the unit has no scaler")
		}
		if err := sc.SetState(checkpoint.ScalerState.Scale, checkpoint.ScalerState.GoodSteps); err != nil {
			return fmt.Errorf("failed to restore scaler state: %v", err)
		}
	}

	return nil
}

// captureOptimizerState extracts the internal buffers of known optimizer
// types. Unknown optimizers checkpoint without state.
func captureOptimizerState(opt Optimizer) *checkpoints.OptimizerState {
	switch o := opt.(type) {
	case *SGD:
		st := &checkpoints.OptimizerState{Type: "SGD"}
		for i, v := range o.Velocities() {
			if v == nil {
				continue
			}
			st.StateData = append(st.StateData, checkpoints.OptimizerTensor{
				Name:      fmt.Sprintf("param_%d", i),
				Shape:     []int{len(v)},
				Data:      v,
				StateType: "momentum",
			})
		}
		return st
	case *Adam:
		st := &checkpoints.OptimizerState{
			Type:       "Adam",
			Parameters: map[string]interface{}{"step": o.StepCount()},
		}
		m, v := o.Moments()
		for i := range m {
			if m[i] == nil {
				continue
			}
			st.StateData = append(st.StateData,
				checkpoints.OptimizerTensor{
					Name:      fmt.Sprintf("param_%d", i),
					Shape:     []int{len(m[i])},
					Data:      m[i],
					StateType: "m",
				},
				checkpoints.OptimizerTensor{
					Name:      fmt.Sprintf("param_%d", i),
					Shape:     []int{len(v[i])},
					Data:      v[i],
					StateType: "v",
				})
		}
		return st
	default:
		return nil
	}
}

// restoreOptimizerState loads captured buffers back into the optimizer.
// A type mismatch between the checkpoint and the configured optimizer is
// an error.
func restoreOptimizerState(opt Optimizer, st *checkpoints.OptimizerState) error {
	switch o := opt.(type) {
	case *SGD:
		if st.Type != "SGD" {
			return fmt.Errorf("optimizer type mismatch: checkpoint has %s, unit has SGD", st.Type)
		}
		velocities := make([][]float32, len(o.Parameters()))
		for _, ot := range st.StateData {
			idx, err := paramIndex(ot.Name, len(velocities))
			if err != nil {
				return err
			}
			velocities[idx] = ot.Data
		}
		return o.SetVelocities(velocities)
	case *Adam:
		if st.Type != "Adam" {
			return fmt.Errorf("optimizer type mismatch: checkpoint has %s, unit has Adam", st.Type)
		}
		n := len(o.Parameters())
		m := make([][]float32, n)
		v := make([][]float32, n)
		for _, ot := range st.StateData {
			idx, err := paramIndex(ot.Name, n)
			if err != nil {
				return err
			}
			switch ot.StateType {
			case "m":
				m[idx] = ot.Data
			case "v":
				v[idx] = ot.Data
			default:
				return fmt.Errorf("unknown Adam state type %q", ot.StateType)
			}
		}
		var step int64
		if raw, ok := st.Parameters["step"]; ok {
			// JSON decoding turns numbers into float64
			switch s := raw.(type) {
			case float64:
				step = int64(s)
			case int64:
				step = s
			}
		}
		return o.SetMoments(m, v, step)
	default:
		return fmt.Errorf("cannot restore state into optimizer type %T", opt)
	}
}

// paramIndex parses the index out of a "param_N" state tensor name
func paramIndex(name string, limit int) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(name, "param_%d", &idx); err != nil {
		return 0, fmt.Errorf("malformed state tensor name %q", name)
	}
	if idx < 0 || idx >= limit {
		return 0, fmt.Errorf("state tensor %q out of range for %d parameters", name, limit)
	}
	return idx, nil
}

// Helper methods

func (cm *CheckpointManager) generateFilename(state *State) string {
	pattern := cm.config.FilenamePattern
	if pattern == "" {
		pattern = "checkpoint_epoch_%d_step_%d"
	}

	baseFilename := fmt.Sprintf(pattern,
		state.Train.Progress.NumEpochsCompleted,
		state.Train.Progress.NumStepsCompleted)

	return fmt.Sprintf("%s.%s", baseFilename, cm.getFileExtension())
}

func (cm *CheckpointManager) getFileExtension() string {
	switch cm.config.Format {
	case checkpoints.FormatJSON:
		return "json"
	case checkpoints.FormatProto:
		return "pb"
	default:
		return "json"
	}
}

func (cm *CheckpointManager) cleanupOldCheckpoints() error {
	if cm.config.MaxCheckpoints <= 0 {
		return nil // No limit
	}

	if len(cm.savedFiles) <= cm.config.MaxCheckpoints {
		return nil // Under limit
	}

	// Remove oldest checkpoints
	toRemove := len(cm.savedFiles) - cm.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(cm.savedFiles[i]); err != nil {
			return fmt.Errorf("failed to remove old checkpoint %s: %v", cm.savedFiles[i], err)
		}
	}

	cm.savedFiles = cm.savedFiles[toRemove:]

	return nil
}
