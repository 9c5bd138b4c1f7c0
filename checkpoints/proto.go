package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// saveProto saves checkpoint as a binary protobuf Struct. The checkpoint is
// lowered through its JSON representation so the two formats stay
// field-for-field identical.
func (cs *CheckpointSaver) saveProto(checkpoint *Checkpoint, path string) error {
	stampMetadata(checkpoint)

	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to lower checkpoint fields: %v", err)
	}

	pb, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to build checkpoint struct: %v", err)
	}

	data, err := proto.Marshal(pb)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}

	return nil
}

// loadProto loads checkpoint from the binary protobuf format
func (cs *CheckpointSaver) loadProto(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	pb := &structpb.Struct{}
	if err := proto.Unmarshal(data, pb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
	}

	raw, err := json.Marshal(pb.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to raise checkpoint fields: %v", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}
