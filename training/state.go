package training

import (
	"fmt"
)

// Progress counts completed units of work. Counts only ever increase; the
// step count increments as a side effect of a successful TrainStep, the
// epoch count as a side effect of OnTrainEpochEnd.
type Progress struct {
	NumEpochsCompleted uint64
	NumStepsCompleted  uint64
}

// TrainState is the mutable training-phase state shared between the driver
// and the training unit.
type TrainState struct {
	Progress Progress
}

// State carries the shared training state through every hook invocation.
// The unit reads the step count from here rather than owning a counter, so
// a driver can checkpoint and restore progress without reaching into the
// unit.
type State struct {
	Train *TrainState
}

// NewState creates a State with an empty training phase.
func NewState() *State {
	return &State{Train: &TrainState{}}
}

func (s *State) validate() error {
	if s == nil || s.Train == nil {
		return fmt.Errorf("state has no train phase")
	}
	return nil
}
