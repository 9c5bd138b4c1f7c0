package training

import (
	"math"
	"reflect"
	"testing"

	"github.com/tsawler/go-train/tensor"
)

// gradThrough runs a backward pass that leaves grad = factor on the
// parameter, mimicking what a scaled loss does.
func gradThrough(t *testing.T, param *tensor.Tensor, factor float32) {
	t.Helper()
	out, err := tensor.MulScalarAutograd(param, factor)
	if err != nil {
		t.Fatalf("MulScalarAutograd failed: %v", err)
	}
	sum, err := tensor.SumAutograd(out)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if err := sum.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
}

func newParam(t *testing.T, data []float32) *tensor.Tensor {
	t.Helper()
	param, err := tensor.NewTensor([]int{len(data)}, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("NewTensor failed: %v", err)
	}
	param.SetRequiresGrad(true)
	return param
}

func TestGradScalerScale(t *testing.T) {
	param := newParam(t, []float32{1})
	gs := NewGradScaler([]*tensor.Tensor{param})

	if gs.ScaleValue() != 65536 {
		t.Fatalf("initial scale = %f, expected 65536", gs.ScaleValue())
	}

	loss := tensor.FromScalar(2, tensor.Float32, tensor.CPU)
	scaled, err := gs.Scale(loss)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	v, _ := scaled.Item()
	if v != 2*65536 {
		t.Errorf("scaled loss = %f, expected %f", v, float32(2*65536))
	}
}

func TestGradScalerStepUnscalesGradients(t *testing.T) {
	param := newParam(t, []float32{1, 1})
	gs := NewGradScaler([]*tensor.Tensor{param})

	// Backward through the scale leaves grads multiplied by the scale
	loss, err := tensor.SumAutograd(param)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	scaled, err := gs.Scale(loss)
	if err != nil {
		t.Fatalf("Scale failed: %v", err)
	}
	if err := scaled.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if param.Grad().Data[0] != 65536 {
		t.Fatalf("scaled grad = %f, expected 65536", param.Grad().Data[0])
	}

	opt, err := NewSGD([]*tensor.Tensor{param}, SGDConfig{LearningRate: 1})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}
	if err := gs.Step(opt); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	gs.Update()

	// lr=1 with unscaled grad 1: parameter moves from 1 to 0
	if !reflect.DeepEqual(param.Data, []float32{0, 0}) {
		t.Errorf("params = %v, expected [0 0] after unscaled step", param.Data)
	}
	if gs.SkippedSteps() != 0 {
		t.Errorf("skipped steps = %d, expected 0", gs.SkippedSteps())
	}
	if gs.GoodSteps() != 1 {
		t.Errorf("good steps = %d, expected 1", gs.GoodSteps())
	}
	if gs.ScaleValue() != 65536 {
		t.Errorf("scale = %f, expected unchanged 65536", gs.ScaleValue())
	}
}

func TestGradScalerSkipsStepOnOverflow(t *testing.T) {
	param := newParam(t, []float32{1, 2})
	gs := NewGradScaler([]*tensor.Tensor{param})

	gradThrough(t, param, float32(math.Inf(1)))

	opt, err := NewSGD([]*tensor.Tensor{param}, SGDConfig{LearningRate: 0.1})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	before := append([]float32(nil), param.Data...)
	if err := gs.Step(opt); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	gs.Update()

	if !reflect.DeepEqual(param.Data, before) {
		t.Errorf("params changed on overflow: %v", param.Data)
	}
	if gs.SkippedSteps() != 1 {
		t.Errorf("skipped steps = %d, expected 1", gs.SkippedSteps())
	}
	if gs.ScaleValue() != 32768 {
		t.Errorf("scale = %f, expected backoff to 32768", gs.ScaleValue())
	}
	if gs.GoodSteps() != 0 {
		t.Errorf("good steps = %d, expected reset to 0", gs.GoodSteps())
	}
}

func TestGradScalerGrowsAfterCleanRun(t *testing.T) {
	param := newParam(t, []float32{1})
	gs := NewGradScaler([]*tensor.Tensor{param})
	gs.growthInterval = 2

	opt, err := NewSGD([]*tensor.Tensor{param}, SGDConfig{LearningRate: 0.001})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		gradThrough(t, param, 65536)
		if err := gs.Step(opt); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		gs.Update()
		param.ClearGrad()
	}

	if gs.ScaleValue() != 131072 {
		t.Errorf("scale = %f, expected growth to 131072", gs.ScaleValue())
	}
	if gs.GoodSteps() != 0 {
		t.Errorf("good steps = %d, expected reset after growth", gs.GoodSteps())
	}
}

func TestGradScalerSetState(t *testing.T) {
	gs := NewGradScaler(nil)

	if err := gs.SetState(1024, 7); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if gs.ScaleValue() != 1024 || gs.GoodSteps() != 7 {
		t.Errorf("state = (%f, %d), expected (1024, 7)", gs.ScaleValue(), gs.GoodSteps())
	}

	if err := gs.SetState(0, 0); err == nil {
		t.Error("SetState should reject a non-positive scale")
	}
	if err := gs.SetState(2, -1); err == nil {
		t.Error("SetState should reject a negative good step count")
	}
}

func TestShardedGradScalerSyncForcesSkip(t *testing.T) {
	param := newParam(t, []float32{1})

	// Local gradients are clean, but another shard reports overflow
	ss := NewShardedGradScaler([]*tensor.Tensor{param}, func(local bool) bool {
		if local {
			t.Error("local overflow flag should be false")
		}
		return true
	})

	gradThrough(t, param, 65536)

	opt, err := NewSGD([]*tensor.Tensor{param}, SGDConfig{LearningRate: 1})
	if err != nil {
		t.Fatalf("NewSGD failed: %v", err)
	}

	before := append([]float32(nil), param.Data...)
	if err := ss.Step(opt); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	ss.Update()

	if !reflect.DeepEqual(param.Data, before) {
		t.Error("params should not move when any shard overflows")
	}
	if ss.ScaleValue() != 32768 {
		t.Errorf("scale = %f, expected lockstep backoff to 32768", ss.ScaleValue())
	}
}

type shardedTestModule struct {
	Module
	sharded bool
}

func (m *shardedTestModule) Sharded() bool { return m.sharded }

func TestMaybeGradScaler(t *testing.T) {
	model, err := NewLinear(2, 1, false, tensor.CPU)
	if err != nil {
		t.Fatalf("NewLinear failed: %v", err)
	}

	if s := maybeGradScaler(PrecisionUnset, model); s != nil {
		t.Error("full precision should not get a scaler")
	}
	if s := maybeGradScaler(PrecisionBFloat16, model); s != nil {
		t.Error("bf16 should not get a scaler")
	}

	if _, ok := maybeGradScaler(PrecisionFloat16, model).(*GradScaler); !ok {
		t.Error("fp16 with a plain module should get a GradScaler")
	}

	sharded := &shardedTestModule{Module: model, sharded: true}
	if _, ok := maybeGradScaler(PrecisionFloat16, sharded).(*ShardedGradScaler); !ok {
		t.Error("fp16 with a sharded module should get a ShardedGradScaler")
	}

	unsharded := &shardedTestModule{Module: model, sharded: false}
	if _, ok := maybeGradScaler(PrecisionFloat16, unsharded).(*GradScaler); !ok {
		t.Error("a sharding wrapper reporting unsharded should get a GradScaler")
	}
}
