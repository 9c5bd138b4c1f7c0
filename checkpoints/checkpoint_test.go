package checkpoints

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleCheckpoint() *Checkpoint {
	return &Checkpoint{
		Weights: []WeightTensor{
			{Name: "param_0", Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
			{Name: "param_1", Shape: []int{2}, Data: []float32{0.5, -0.5}},
		},
		Progress: Progress{
			EpochsCompleted: 3,
			StepsCompleted:  120,
			LearningRate:    0.01,
		},
		OptimizerState: &OptimizerState{
			Type: "SGD",
			StateData: []OptimizerTensor{
				{Name: "param_0", Shape: []int{4}, Data: []float32{0.1, 0.2, 0.3, 0.4}, StateType: "momentum"},
			},
		},
		ScalerState: &ScalerState{Scale: 32768, GoodSteps: 17},
		Metadata: CheckpointMetadata{
			Precision:   "fp16",
			Description: "test checkpoint",
		},
	}
}

func assertCheckpointsEqual(t *testing.T, got, want *Checkpoint) {
	t.Helper()

	if len(got.Weights) != len(want.Weights) {
		t.Fatalf("weight count = %d, expected %d", len(got.Weights), len(want.Weights))
	}
	for i := range want.Weights {
		if got.Weights[i].Name != want.Weights[i].Name {
			t.Errorf("weight %d name = %q, expected %q", i, got.Weights[i].Name, want.Weights[i].Name)
		}
		if !reflect.DeepEqual(got.Weights[i].Shape, want.Weights[i].Shape) {
			t.Errorf("weight %d shape = %v, expected %v", i, got.Weights[i].Shape, want.Weights[i].Shape)
		}
		if !reflect.DeepEqual(got.Weights[i].Data, want.Weights[i].Data) {
			t.Errorf("weight %d data = %v, expected %v", i, got.Weights[i].Data, want.Weights[i].Data)
		}
	}

	if got.Progress != want.Progress {
		t.Errorf("progress = %+v, expected %+v", got.Progress, want.Progress)
	}

	if got.OptimizerState == nil || got.OptimizerState.Type != want.OptimizerState.Type {
		t.Fatalf("optimizer state = %+v, expected type %s", got.OptimizerState, want.OptimizerState.Type)
	}
	if !reflect.DeepEqual(got.OptimizerState.StateData, want.OptimizerState.StateData) {
		t.Errorf("optimizer state data = %+v, expected %+v",
			got.OptimizerState.StateData, want.OptimizerState.StateData)
	}

	if got.ScalerState == nil || *got.ScalerState != *want.ScalerState {
		t.Errorf("scaler state = %+v, expected %+v", got.ScalerState, want.ScalerState)
	}

	if got.Metadata.Precision != want.Metadata.Precision {
		t.Errorf("precision = %q, expected %q", got.Metadata.Precision, want.Metadata.Precision)
	}
}

func TestCheckpointFormatString(t *testing.T) {
	tests := []struct {
		format   CheckpointFormat
		expected string
	}{
		{FormatJSON, "JSON"},
		{FormatProto, "Proto"},
		{CheckpointFormat(9), "Unknown"},
	}

	for _, test := range tests {
		if got := test.format.String(); got != test.expected {
			t.Errorf("String() = %q, expected %q", got, test.expected)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	saver := NewCheckpointSaver(FormatJSON)

	original := sampleCheckpoint()
	if err := saver.SaveCheckpoint(original, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	assertCheckpointsEqual(t, loaded, original)
}

func TestProtoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pb")
	saver := NewCheckpointSaver(FormatProto)

	original := sampleCheckpoint()
	if err := saver.SaveCheckpoint(original, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	assertCheckpointsEqual(t, loaded, original)
}

func TestProtoFileIsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pb")
	saver := NewCheckpointSaver(FormatProto)

	if err := saver.SaveCheckpoint(sampleCheckpoint(), path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("proto checkpoint should not be empty")
	}
	if data[0] == '{' {
		t.Error("proto checkpoint should not be JSON text")
	}
}

func TestSaveStampsMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	saver := NewCheckpointSaver(FormatJSON)

	checkpoint := sampleCheckpoint()
	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	if checkpoint.Metadata.Framework == "" || checkpoint.Metadata.Version == "" {
		t.Error("save should fill in empty metadata fields")
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		t.Error("save should stamp the creation time")
	}
}

func TestOmittedOptionalSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	saver := NewCheckpointSaver(FormatJSON)

	minimal := &Checkpoint{
		Weights:  []WeightTensor{{Name: "param_0", Shape: []int{1}, Data: []float32{1}}},
		Progress: Progress{StepsCompleted: 1},
	}
	if err := saver.SaveCheckpoint(minimal, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.OptimizerState != nil {
		t.Error("absent optimizer state should load as nil")
	}
	if loaded.ScalerState != nil {
		t.Error("absent scaler state should load as nil")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(9))
	if err := saver.SaveCheckpoint(sampleCheckpoint(), "x"); err == nil {
		t.Error("unknown format should fail to save")
	}
	if _, err := saver.LoadCheckpoint("x"); err == nil {
		t.Error("unknown format should fail to load")
	}
}

func TestLoadMissingFile(t *testing.T) {
	saver := NewCheckpointSaver(FormatJSON)
	if _, err := saver.LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("loading a missing file should fail")
	}
}
