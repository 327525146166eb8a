package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/born-ml/neuralode/internal/config"
)

// flagValue returns a pointer to the flag value, or nil when the flag was not
// given on the command line.
func flagValue[T any](c *cli.Context, name string, get func(string) T) *T {
	if !c.IsSet(name) {
		return nil
	}
	v := get(name)
	return &v
}

func overridesFromFlags(c *cli.Context) config.Overrides {
	return config.Overrides{
		Network:            flagValue(c, flagNetwork, c.String),
		Tol:                flagValue(c, flagTol, c.Float64),
		Adjoint:            flagValue(c, flagAdjoint, c.Bool),
		Method:             flagValue(c, flagMethod, c.String),
		StepSize:           flagValue(c, flagStepSize, c.Float64),
		DownsamplingMethod: flagValue(c, flagDownsamplingMethod, c.String),
		Width:              flagValue(c, flagWidth, c.Int),
		NEpochs:            flagValue(c, flagNEpochs, c.Int),
		DataAug:            flagValue(c, flagDataAug, c.Bool),
		LR:                 flagValue(c, flagLR, c.Float64),
		Momentum:           flagValue(c, flagMomentum, c.Float64),
		WeightDecay:        flagValue(c, flagWeightDecay, c.Float64),
		BatchSize:          flagValue(c, flagBatchSize, c.Int),
		TestBatchSize:      flagValue(c, flagTestBatchSize, c.Int),
		DataDir:            flagValue(c, flagDataDir, c.String),
		Download:           flagValue(c, flagDownload, c.Bool),
		Mirror:             flagValue(c, flagMirror, c.String),
		SaveDir:            flagValue(c, flagSaveDir, c.String),
		Seed:               flagValue(c, flagSeed, c.Int64),
		Debug:              flagValue(c, flagDebug, c.Bool),
		LogFile:            flagValue(c, flagLogFile, c.String),
		Plot:               flagValue(c, flagPlot, c.String),
		MaxTrainSamples:    flagValue(c, flagMaxTrainSamples, c.Int),
		MaxTestSamples:     flagValue(c, flagMaxTestSamples, c.Int),
		Synthetic:          flagValue(c, flagSynthetic, c.Bool),
	}
}

// hyperparams loads --config (or the defaults) and applies the flags given on
// the command line.
func hyperparams(c *cli.Context) (*config.Hyperparams, error) {
	h := config.Defaults()
	if path := c.String(flagConfig); path != "" {
		var err error
		if h, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	h.ApplyOverrides(overridesFromFlags(c))
	if err := h.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid hyperparameters")
	}
	return h, nil
}
