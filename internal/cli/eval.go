package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/config"
	"github.com/born-ml/neuralode/internal/mnist"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/train"
)

// evalAction rebuilds the network from the hyperparameters stored in a
// checkpoint and reports its test accuracy.
func evalAction(c *cli.Context) error {
	path := c.String(flagCheckpoint)
	meta, err := nn.ReadCheckpointMetadata(path)
	if err != nil {
		return errors.Wrapf(err, "read checkpoint %s", path)
	}
	text, ok := meta[train.MetaHyperparams]
	if !ok {
		return errors.Errorf("checkpoint %s has no %q metadata", path, train.MetaHyperparams)
	}
	h, err := config.Parse([]byte(text))
	if err != nil {
		return errors.Wrap(err, "decode checkpoint hyperparameters")
	}
	h.ApplyOverrides(config.Overrides{
		DataDir:        flagValue(c, flagDataDir, c.String),
		Download:       flagValue(c, flagDownload, c.Bool),
		Mirror:         flagValue(c, flagMirror, c.String),
		TestBatchSize:  flagValue(c, flagTestBatchSize, c.Int),
		MaxTestSamples: flagValue(c, flagMaxTestSamples, c.Int),
		Synthetic:      flagValue(c, flagSynthetic, c.Bool),
		Debug:          flagValue(c, flagDebug, c.Bool),
	})
	if err := h.Validate(); err != nil {
		return errors.Wrap(err, "invalid hyperparameters")
	}

	logger, err := newLogger(c, h)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	_, testSet, err := loadData(c.Context, h, logger)
	if err != nil {
		return err
	}

	backend := autodiff.New(cpu.New())
	net, err := model.New(h.ModelConfig(), backend)
	if err != nil {
		return errors.Wrap(err, "build model")
	}
	ckpt, err := nn.LoadCheckpoint[*autodiff.AutodiffBackend[*cpu.CPUBackend]](path, net, nil)
	if err != nil {
		return errors.Wrapf(err, "load checkpoint %s", path)
	}
	loader, err := mnist.NewLoader(testSet, mnist.LoaderConfig{BatchSize: h.TestBatchSize}, backend)
	if err != nil {
		return errors.Wrap(err, "build test loader")
	}

	acc, err := train.Accuracy[*autodiff.AutodiffBackend[*cpu.CPUBackend]](net, loader, logger)
	if err != nil {
		return err
	}
	logger.Infow("evaluated checkpoint", "path", path, "epoch", ckpt.Epoch, "run", meta[train.MetaRunID])
	_, err = fmt.Fprintln(c.App.Writer, evalLine(ckpt.Epoch, acc, net.NFE(), loader.Len()))
	return err
}

// evalLine reports the accuracy and the mean forward NFE per test batch.
func evalLine(epoch int, acc float64, totalNFE, batches int) string {
	var nfe float64
	if batches > 0 {
		nfe = float64(totalNFE) / float64(batches)
	}
	return fmt.Sprintf("Epoch %04d | Test Acc %.4f | NFE-F %.1f", epoch, acc, nfe)
}
