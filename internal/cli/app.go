// Package cli implements the odenet command line: training, evaluation of a
// saved checkpoint and dataset download.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// Version is reported by the version command.
var Version = "v0.1.0-dev"

const (
	// Flags.
	flagConfig             = "config"
	flagQuiet              = "quiet"
	flagCheckpoint         = "checkpoint"
	flagNetwork            = "network"
	flagTol                = "tol"
	flagAdjoint            = "adjoint"
	flagMethod             = "method"
	flagStepSize           = "step-size"
	flagDownsamplingMethod = "downsampling-method"
	flagWidth              = "width"
	flagNEpochs            = "nepochs"
	flagDataAug            = "data-aug"
	flagLR                 = "lr"
	flagMomentum           = "momentum"
	flagWeightDecay        = "weight-decay"
	flagBatchSize          = "batch-size"
	flagTestBatchSize      = "test-batch-size"
	flagDataDir            = "data-dir"
	flagDownload           = "download"
	flagMirror             = "mirror"
	flagSaveDir            = "save-dir"
	flagSeed               = "seed"
	flagDebug              = "debug"
	flagLogFile            = "log-file"
	flagPlot               = "plot"
	flagMaxTrainSamples    = "max-train-samples"
	flagMaxTestSamples     = "max-test-samples"
	flagSynthetic          = "synthetic"
)

// NewApp builds the odenet application writing its reports to out.
func NewApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "odenet",
		Usage:  "train and evaluate neural ODE classifiers on MNIST",
		Writer: out,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagQuiet,
				Aliases: []string{"q"},
				Usage:   "do not log to stdout",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "train",
				Usage:  "train a classifier",
				Flags:  append([]cli.Flag{configFlag()}, hyperparamFlags()...),
				Action: trainAction,
			},
			{
				Name:  "eval",
				Usage: "report the test accuracy of a checkpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagCheckpoint,
						Required: true,
						Usage:    "checkpoint `FILE` written by train",
					},
					&cli.StringFlag{Name: flagDataDir, Usage: "MNIST directory"},
					&cli.BoolFlag{Name: flagDownload, Usage: "download missing MNIST files"},
					&cli.StringFlag{Name: flagMirror, Usage: "MNIST mirror base URL"},
					&cli.IntFlag{Name: flagTestBatchSize, Usage: "evaluation batch size"},
					&cli.IntFlag{Name: flagMaxTestSamples, Usage: "evaluate on the first N test images"},
					&cli.BoolFlag{Name: flagSynthetic, Usage: "evaluate on generated data"},
					&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging"},
				},
				Action: evalAction,
			},
			{
				Name:  "download",
				Usage: "fetch and verify the MNIST archives",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: flagDataDir, Usage: "destination directory"},
					&cli.StringFlag{Name: flagMirror, Usage: "MNIST mirror base URL"},
					&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging"},
				},
				Action: downloadAction,
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					_, err := fmt.Fprintf(c.App.Writer, "odenet %s\n", Version)
					return err
				},
			},
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagConfig,
		Aliases: []string{"c"},
		Usage:   "load hyperparameters from YAML `FILE`",
	}
}

func hyperparamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagNetwork, Usage: "odenet or resnet"},
		&cli.Float64Flag{Name: flagTol, Usage: "solver tolerance"},
		&cli.BoolFlag{Name: flagAdjoint, Usage: "backpropagate with the adjoint method"},
		&cli.StringFlag{Name: flagMethod, Usage: "solver: euler, midpoint, rk4 or dopri5"},
		&cli.Float64Flag{Name: flagStepSize, Usage: "step size of fixed-grid solvers"},
		&cli.StringFlag{Name: flagDownsamplingMethod, Usage: "conv or res"},
		&cli.IntFlag{Name: flagWidth, Usage: "feature channels"},
		&cli.IntFlag{Name: flagNEpochs, Usage: "training epochs"},
		&cli.BoolFlag{Name: flagDataAug, Usage: "random-crop augmentation"},
		&cli.Float64Flag{Name: flagLR, Usage: "base learning rate"},
		&cli.Float64Flag{Name: flagMomentum, Usage: "SGD momentum"},
		&cli.Float64Flag{Name: flagWeightDecay, Usage: "L2 weight decay"},
		&cli.IntFlag{Name: flagBatchSize, Usage: "training batch size"},
		&cli.IntFlag{Name: flagTestBatchSize, Usage: "evaluation batch size"},
		&cli.StringFlag{Name: flagDataDir, Usage: "MNIST directory"},
		&cli.BoolFlag{Name: flagDownload, Usage: "download missing MNIST files"},
		&cli.StringFlag{Name: flagMirror, Usage: "MNIST mirror base URL"},
		&cli.StringFlag{Name: flagSaveDir, Usage: "checkpoint directory"},
		&cli.Int64Flag{Name: flagSeed, Usage: "random seed"},
		&cli.BoolFlag{Name: flagDebug, Usage: "enable debug logging"},
		&cli.StringFlag{Name: flagLogFile, Usage: "also log to `FILE`"},
		&cli.StringFlag{Name: flagPlot, Usage: "write a PNG of the run history to `FILE`"},
		&cli.IntFlag{Name: flagMaxTrainSamples, Usage: "train on the first N images"},
		&cli.IntFlag{Name: flagMaxTestSamples, Usage: "evaluate on the first N test images"},
		&cli.BoolFlag{Name: flagSynthetic, Usage: "use generated data instead of MNIST"},
	}
}
