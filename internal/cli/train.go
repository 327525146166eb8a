package cli

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/config"
	"github.com/born-ml/neuralode/internal/logging"
	"github.com/born-ml/neuralode/internal/mnist"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/train"
)

// Sample counts of generated datasets when no limit is configured.
const (
	syntheticTrainSamples = 1000
	syntheticTestSamples  = 200
)

func newLogger(c *cli.Context, h *config.Hyperparams) (*zap.SugaredLogger, error) {
	logger, err := logging.Setup(logging.Options{
		Display: !c.Bool(flagQuiet),
		SaveTo:  h.LogFile,
		Debug:   h.Debug,
	})
	if err != nil {
		return nil, errors.Wrap(err, "set up logging")
	}
	return logger, nil
}

func trainAction(c *cli.Context) error {
	h, err := hyperparams(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, h)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	hyperText, err := h.Marshal()
	if err != nil {
		return errors.Wrap(err, "encode hyperparameters")
	}
	logger.Debugf("hyperparameters:\n%s", hyperText)

	trainSet, testSet, err := loadData(c.Context, h, logger)
	if err != nil {
		return err
	}

	nn.Seed(h.Seed)
	backend := autodiff.New(cpu.New())
	net, err := model.New(h.ModelConfig(), backend)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	logger.Infof("model:\n%s", net.Summary())

	loaders, err := mnist.NewLoaders(trainSet, testSet, h.BatchSize, h.TestBatchSize, h.DataAug, h.Seed, backend)
	if err != nil {
		return errors.Wrap(err, "build loaders")
	}
	trainer, err := train.New(train.Config{
		Epochs:         h.NEpochs,
		LR:             h.LR,
		Momentum:       h.Momentum,
		WeightDecay:    h.WeightDecay,
		BatchSize:      h.BatchSize,
		BatchDenom:     h.BatchDenom,
		BoundaryEpochs: h.BoundaryEpochs,
		DecayRates:     h.DecayRates,
		SaveDir:        h.SaveDir,
		Metadata:       map[string]string{train.MetaHyperparams: hyperText},
	}, net, loaders, backend, logger)
	if err != nil {
		return errors.Wrap(err, "build trainer")
	}

	history, runErr := trainer.Run(c.Context)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Wrap(runErr, "train")
	}
	if runErr != nil {
		logger.Warnw("training interrupted", "epochs_completed", len(history.Records))
	}

	if h.Plot != "" && len(history.Records) > 0 {
		if err := train.PlotHistory(history, h.Plot); err != nil {
			return errors.Wrap(err, "plot history")
		}
	}
	report, err := train.Summary(history)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "run %s: best test acc %.4f at epoch %d | batch time mean %.3fs median %.3fs p95 %.3fs\n",
		report.RunID, report.BestTestAcc, report.BestEpoch, report.BatchMean, report.BatchMedian, report.BatchP95)
	if path := trainer.CheckpointPath(); path != "" && len(history.Records) > 0 {
		fmt.Fprintf(c.App.Writer, "checkpoint: %s\n", path)
	}
	return runErr
}

// loadData returns the training and test sets, fetching MNIST when allowed.
func loadData(ctx context.Context, h *config.Hyperparams, logger *zap.SugaredLogger) (*mnist.Dataset, *mnist.Dataset, error) {
	if h.Synthetic {
		trainN, testN := h.MaxTrainSamples, h.MaxTestSamples
		if trainN == 0 {
			trainN = syntheticTrainSamples
		}
		if testN == 0 {
			testN = syntheticTestSamples
		}
		logger.Infow("using synthetic data", "train", trainN, "test", testN)
		return mnist.Synthetic(trainN, h.Seed), mnist.Synthetic(testN, h.Seed+1), nil
	}

	if _, err := mnist.Fetch(ctx, h.DataDir, mnist.FetchOptions{
		Mirror:   h.Mirror,
		Download: h.Download,
		Logger:   logger,
	}); err != nil {
		return nil, nil, errors.Wrap(err, "fetch MNIST")
	}
	trainSet, err := mnist.Load(h.DataDir, mnist.Train)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load training set")
	}
	testSet, err := mnist.Load(h.DataDir, mnist.Test)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load test set")
	}
	trainSet, testSet = trainSet.Subset(h.MaxTrainSamples), testSet.Subset(h.MaxTestSamples)
	logger.Infow("loaded MNIST", "dir", h.DataDir, "train", trainSet.Len(), "test", testSet.Len())
	return trainSet, testSet, nil
}
