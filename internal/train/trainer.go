package train

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/mnist"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/optim"
	"github.com/born-ml/neuralode/internal/tensor"
)

// CheckpointName is the file the best model is saved to inside SaveDir.
const CheckpointName = "model.safetensors"

// Checkpoint metadata keys written by the trainer.
const (
	MetaRunID         = "run_id"
	MetaTrainAccuracy = "train_accuracy"
	MetaHyperparams   = "hyperparams"
)

// Config configures a training run.
type Config struct {
	Epochs         int
	LR             float64
	Momentum       float64
	WeightDecay    float64
	BatchSize      int
	BatchDenom     int
	BoundaryEpochs []int
	DecayRates     []float64

	// SaveDir receives the best checkpoint; empty disables checkpointing.
	SaveDir string
	// Metadata is copied into every checkpoint.
	Metadata map[string]string
}

// Trainer runs the training loop for a network on an autodiff backend.
type Trainer[B autodiff.BackwardCapable] struct {
	cfg     Config
	net     *model.Net[B]
	loaders *mnist.Loaders[B]
	backend B
	opt     *optim.SGD[B]
	loss    *nn.CrossEntropyLoss[B]
	lr      func(int) float64
	logger  *zap.SugaredLogger
	runID   string
	history *History
}

// New prepares a trainer. The optimizer is SGD over all network parameters.
func New[B autodiff.BackwardCapable](
	cfg Config,
	net *model.Net[B],
	loaders *mnist.Loaders[B],
	backend B,
	logger *zap.SugaredLogger,
) (*Trainer[B], error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("train: epochs must be positive, got %d", cfg.Epochs)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	lr, err := LearningRateDecay(cfg.LR, cfg.BatchSize, cfg.BatchDenom, loaders.Train.Len(), cfg.BoundaryEpochs, cfg.DecayRates)
	if err != nil {
		return nil, err
	}
	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			return nil, fmt.Errorf("train: create save dir: %w", err)
		}
	}

	runID := uuid.New().String()
	return &Trainer[B]{
		cfg:     cfg,
		net:     net,
		loaders: loaders,
		backend: backend,
		opt: optim.NewSGD(net.Parameters(), optim.SGDConfig{
			LR:          float32(lr(0)),
			Momentum:    float32(cfg.Momentum),
			WeightDecay: float32(cfg.WeightDecay),
		}),
		loss:    nn.NewCrossEntropyLoss(backend),
		lr:      lr,
		logger:  logger.With("run", runID),
		runID:   runID,
		history: &History{RunID: runID},
	}, nil
}

// RunID identifies the run in logs and checkpoints.
func (t *Trainer[B]) RunID() string {
	return t.runID
}

// Optimizer returns the optimizer.
func (t *Trainer[B]) Optimizer() *optim.SGD[B] {
	return t.opt
}

// CheckpointPath returns where the best model is saved, or "" when disabled.
func (t *Trainer[B]) CheckpointPath() string {
	if t.cfg.SaveDir == "" {
		return ""
	}
	return filepath.Join(t.cfg.SaveDir, CheckpointName)
}

// Run trains for cfg.Epochs epochs. Train and test accuracy are evaluated on
// the first iteration of every epoch, and the network is checkpointed
// whenever test accuracy improves. Cancelling ctx stops the loop between
// iterations; the history so far is returned with ctx.Err().
func (t *Trainer[B]) Run(ctx context.Context) (*History, error) {
	batchesPerEpoch := t.loaders.Train.Len()
	gen := mnist.NewGenerator(t.loaders.Train)
	defer gen.Close()

	batchTime := NewRunningAverageMeter(0.99)
	nfeForward := NewRunningAverageMeter(0.99)
	nfeBackward := NewRunningAverageMeter(0.99)
	best := -1.0

	t.logger.Infow("training", "epochs", t.cfg.Epochs, "batches_per_epoch", batchesPerEpoch,
		"parameters", nn.CountParameters[B](t.net))

	end := time.Now()
	for itr := 0; itr < t.cfg.Epochs*batchesPerEpoch; itr++ {
		if err := ctx.Err(); err != nil {
			return t.history, err
		}
		lr := t.lr(itr)
		t.opt.SetLR(float32(lr))
		t.opt.ZeroGrad()

		res, err := t.step(gen.Next())
		if err != nil {
			return t.history, fmt.Errorf("iteration %d: %w", itr, err)
		}
		elapsed := time.Since(end).Seconds()
		batchTime.Update(elapsed)
		nfeForward.Update(float64(res.nfeForward))
		nfeBackward.Update(float64(res.nfeBackward))
		t.history.BatchTimes = append(t.history.BatchTimes, elapsed)

		if itr%batchesPerEpoch == 0 {
			rec, err := t.evaluate(itr, batchesPerEpoch, lr, res.loss, batchTime, nfeForward, nfeBackward)
			if err != nil {
				return t.history, err
			}
			if rec.TestAcc > best {
				best = rec.TestAcc
				if err := t.save(rec); err != nil {
					return t.history, err
				}
			}
			t.logger.Infof("Epoch %04d | Time %.3f (%.3f) | NFE-F %.1f | NFE-B %.1f | Train Acc %.4f | Test Acc %.4f",
				rec.Epoch, rec.BatchTime, rec.BatchTimeAvg, rec.NFEForward, rec.NFEBackward, rec.TrainAcc, rec.TestAcc)
		}
		end = time.Now()
	}
	return t.history, nil
}

type stepResult struct {
	loss        float64
	nfeForward  int
	nfeBackward int
}

// step runs forward, backward and the optimizer update on one batch.
func (t *Trainer[B]) step(batch *mnist.Batch[B]) (stepResult, error) {
	tape := t.backend.GetTape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	var res stepResult
	t.net.ResetNFE()
	var loss *tensor.Tensor[float32, B]
	if err := ode.Catch(func() {
		loss = t.loss.Forward(t.net.Forward(batch.Images), batch.Labels)
	}); err != nil {
		return res, fmt.Errorf("forward: %w", err)
	}
	res.nfeForward = t.net.NFE()
	t.net.ResetNFE()

	var grads map[*tensor.RawTensor]*tensor.RawTensor
	if err := ode.Catch(func() {
		grads = autodiff.Backward(loss, t.backend)
	}); err != nil {
		return res, fmt.Errorf("backward: %w", err)
	}
	res.nfeBackward = t.net.NFE()
	t.net.ResetNFE()

	t.opt.Step(nn.CollectGrads(t.net.Parameters(), grads))
	res.loss = float64(loss.Item())
	return res, nil
}

func (t *Trainer[B]) evaluate(
	itr, batchesPerEpoch int,
	lr, loss float64,
	batchTime, nfeForward, nfeBackward *RunningAverageMeter,
) (EpochRecord, error) {
	trainAcc, err := Accuracy[B](t.net, t.loaders.TrainEval, t.logger)
	if err != nil {
		return EpochRecord{}, fmt.Errorf("train accuracy: %w", err)
	}
	testAcc, err := Accuracy[B](t.net, t.loaders.Test, t.logger)
	if err != nil {
		return EpochRecord{}, fmt.Errorf("test accuracy: %w", err)
	}
	t.net.ResetNFE()

	rec := EpochRecord{
		Epoch:        itr / batchesPerEpoch,
		Iteration:    itr,
		BatchTime:    batchTime.Val(),
		BatchTimeAvg: batchTime.Avg(),
		NFEForward:   nfeForward.Avg(),
		NFEBackward:  nfeBackward.Avg(),
		TrainAcc:     trainAcc,
		TestAcc:      testAcc,
		Loss:         loss,
		LR:           lr,
	}
	t.history.Records = append(t.history.Records, rec)
	return rec, nil
}

func (t *Trainer[B]) save(rec EpochRecord) error {
	path := t.CheckpointPath()
	if path == "" {
		return nil
	}
	meta := make(map[string]string, len(t.cfg.Metadata)+2)
	for k, v := range t.cfg.Metadata {
		meta[k] = v
	}
	meta[MetaRunID] = t.runID
	meta[MetaTrainAccuracy] = strconv.FormatFloat(rec.TrainAcc, 'f', -1, 64)

	ckpt := &nn.Checkpoint[B]{
		Model:     t.net,
		Optimizer: t.opt,
		Epoch:     rec.Epoch,
		Step:      int64(rec.Iteration),
		Accuracy:  rec.TestAcc,
		Metadata:  meta,
	}
	if err := ckpt.Save(path); err != nil {
		return err
	}
	t.logger.Debugw("saved checkpoint", "path", path, "epoch", rec.Epoch, "test_acc", rec.TestAcc)
	return nil
}
