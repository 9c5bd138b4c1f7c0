package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsawler/go-train/checkpoints"
	"github.com/tsawler/go-train/tensor"
	"github.com/tsawler/go-train/training"
)

func main() {
	root := &cobra.Command{
		Use:   "autotrain",
		Short: "Train a model with automatic mixed-precision handling",
	}
	root.AddCommand(trainCommand(), infoCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type trainOptions struct {
	precision      string
	optimizer      string
	learningRate   float64
	epochs         int
	batchSize      int
	samples        int
	limit          int
	features       int
	logEvery       int
	lrStepInterval string
	lrStepSize     int
	lrGamma        float64
	checkpointDir  string
	checkpointFmt  string
	resume         string
	seed           int64
}

func trainCommand() *cobra.Command {
	opts := trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a training loop over a synthetic regression dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraining(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.precision, "precision", "", "reduced precision: fp16, bf16 or empty for full precision")
	flags.StringVar(&opts.optimizer, "optimizer", "sgd", "optimizer: sgd or adam")
	flags.Float64Var(&opts.learningRate, "lr", 0.01, "learning rate")
	flags.IntVar(&opts.epochs, "epochs", 10, "number of epochs")
	flags.IntVar(&opts.batchSize, "batch-size", 32, "batch size")
	flags.IntVar(&opts.samples, "samples", 1024, "synthetic dataset size")
	flags.IntVar(&opts.limit, "limit", 0, "train on only the first N samples (0 uses all)")
	flags.IntVar(&opts.features, "features", 16, "synthetic feature count")
	flags.IntVar(&opts.logEvery, "log-every", 10, "log metrics every N steps")
	flags.StringVar(&opts.lrStepInterval, "lr-interval", "epoch", "scheduler granularity: step or epoch")
	flags.IntVar(&opts.lrStepSize, "lr-step-size", 5, "scheduler ticks between learning rate drops")
	flags.Float64Var(&opts.lrGamma, "lr-gamma", 0.5, "learning rate decay factor")
	flags.StringVar(&opts.checkpointDir, "checkpoint-dir", "", "directory for checkpoints (empty disables)")
	flags.StringVar(&opts.checkpointFmt, "checkpoint-format", "json", "checkpoint format: json or pb")
	flags.StringVar(&opts.resume, "resume", "", "checkpoint file to resume from")
	flags.Int64Var(&opts.seed, "seed", 42, "random seed")

	return cmd
}

func infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the detected compute environment",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CPU: %s\n", training.CPUFeatureSummary())
			fmt.Printf("Fast half-precision: %t\n", training.SupportsFastHalf())
			fmt.Printf("Default device: %v\n", training.DefaultDevice())
		},
	}
}

func runTraining(opts trainOptions) error {
	training.SetRandomSeed(opts.seed)

	var dataset training.Dataset
	dataset, err := training.NewRandomRegressionDataset(opts.samples, opts.features, 0.1)
	if err != nil {
		return fmt.Errorf("failed to build dataset: %v", err)
	}
	if opts.limit > 0 {
		dataset, err = training.NewSubsetDataset(dataset, opts.limit)
		if err != nil {
			return fmt.Errorf("failed to limit dataset: %v", err)
		}
	}
	loader, err := training.NewDataLoader(dataset, opts.batchSize, true)
	if err != nil {
		return fmt.Errorf("failed to build data loader: %v", err)
	}

	model, err := buildModel(opts.features)
	if err != nil {
		return fmt.Errorf("failed to build model: %v", err)
	}

	optimizer, err := buildOptimizer(opts, model)
	if err != nil {
		return err
	}

	interval := training.IntervalEpoch
	switch opts.lrStepInterval {
	case "epoch":
	case "step":
		interval = training.IntervalStep
	default:
		return fmt.Errorf("unknown scheduler granularity %q, use step or epoch", opts.lrStepInterval)
	}

	var lastLoss float64
	tracker := training.NewMetricTracker()
	unit, err := training.NewAutoTrainUnit(training.AutoUnitConfig{
		Module:            model,
		Optimizer:         optimizer,
		LRScheduler:       training.NewStepLR(optimizer, opts.lrStepSize, opts.lrGamma),
		StepLRInterval:    interval,
		LogFrequencySteps: opts.logEvery,
		Precision:         opts.precision,
		Hooks: training.TrainHooks{
			ComputeLoss: func(state *training.State, batch *training.Batch) (*tensor.Tensor, any, error) {
				pred, err := model.Forward(batch.Data)
				if err != nil {
					return nil, nil, err
				}
				loss, err := training.MSELoss(pred, batch.Labels)
				return loss, pred, err
			},
			UpdateMetrics: func(state *training.State, batch *training.Batch, loss *tensor.Tensor, output any) error {
				v, err := loss.Item()
				if err != nil {
					return err
				}
				lastLoss = float64(v)
				if pred, ok := output.(*tensor.Tensor); ok {
					return tracker.UpdateFromTensors(pred, batch.Labels)
				}
				return nil
			},
			LogMetrics: func(state *training.State, step uint64, iv training.Interval) error {
				if iv == training.IntervalStep {
					fmt.Printf("step %d: loss=%.6f lr=%.6f\n", step, lastLoss, optimizer.GetLR())
				}
				return nil
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build train unit: %v", err)
	}

	var manager *training.CheckpointManager
	state := training.NewState()
	if opts.checkpointDir != "" || opts.resume != "" {
		format := checkpoints.FormatJSON
		switch opts.checkpointFmt {
		case "json":
		case "pb":
			format = checkpoints.FormatProto
		default:
			return fmt.Errorf("unknown checkpoint format %q, use json or pb", opts.checkpointFmt)
		}
		config := training.DefaultCheckpointConfig()
		config.Format = format
		if opts.checkpointDir != "" {
			config.SaveDirectory = opts.checkpointDir
		}
		manager = training.NewCheckpointManager(unit, config)

		if opts.resume != "" {
			if err := manager.LoadCheckpoint(opts.resume, state); err != nil {
				return err
			}
			fmt.Printf("Resumed from %s at epoch %d, step %d\n",
				opts.resume,
				state.Train.Progress.NumEpochsCompleted,
				state.Train.Progress.NumStepsCompleted)
		}

		unit.RegisterPostEpochEndHook(func(s *training.State) error {
			saved, err := manager.SavePeriodicCheckpoint(s)
			if err != nil {
				return err
			}
			if saved {
				fmt.Printf("Saved checkpoint at epoch %d\n", s.Train.Progress.NumEpochsCompleted)
			}
			return nil
		})
	}

	model.Train()
	for epoch := 0; epoch < opts.epochs; epoch++ {
		loader.Reset()
		for {
			batch, ok, err := loader.Next()
			if err != nil {
				return fmt.Errorf("failed to read batch: %v", err)
			}
			if !ok {
				break
			}
			if _, _, err := unit.TrainStep(state, batch); err != nil {
				return fmt.Errorf("training step failed: %v", err)
			}
		}
		if err := unit.OnTrainEpochEnd(state); err != nil {
			return fmt.Errorf("epoch end failed: %v", err)
		}

		summary := training.EpochSummary{
			Epoch:        state.Train.Progress.NumEpochsCompleted,
			Epochs:       opts.epochs,
			Loss:         lastLoss,
			LearningRate: optimizer.GetLR(),
		}
		if gs, ok := unit.Scaler().(*training.GradScaler); ok {
			summary.LossScale = gs.ScaleValue()
		}
		summary.Print()

		metrics := tracker.Compute()
		fmt.Printf("  mae=%.6f rmse=%.6f r2=%.4f\n", metrics.MAE, metrics.RMSE, metrics.R2)
		tracker.Reset()
	}

	if manager != nil {
		if _, err := manager.SaveBestCheckpoint(state, float32(lastLoss)); err != nil {
			return err
		}
	}

	return nil
}

func buildModel(features int) (training.Module, error) {
	hidden, err := training.NewLinear(features, 8, true, tensor.CPU)
	if err != nil {
		return nil, err
	}
	out, err := training.NewLinear(8, 1, true, tensor.CPU)
	if err != nil {
		return nil, err
	}
	return training.NewSequential(hidden, out), nil
}

func buildOptimizer(opts trainOptions, model training.Module) (training.Optimizer, error) {
	switch opts.optimizer {
	case "sgd":
		return training.NewSGD(model.Parameters(), training.SGDConfig{
			LearningRate: opts.learningRate,
			Momentum:     0.9,
		})
	case "adam":
		config := training.DefaultAdamConfig()
		config.LearningRate = opts.learningRate
		return training.NewAdam(model.Parameters(), config)
	default:
		return nil, fmt.Errorf("unknown optimizer %q, use sgd or adam", opts.optimizer)
	}
}
