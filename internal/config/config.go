// Package config holds the hyperparameters of a training run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/neuralode/internal/mnist"
	"github.com/born-ml/neuralode/internal/model"
	"github.com/born-ml/neuralode/internal/ode"
)

// Hyperparams captures every knob of a training run.
type Hyperparams struct {
	Network            string  `yaml:"network"`
	Tol                float64 `yaml:"tol"`
	Adjoint            bool    `yaml:"adjoint"`
	Method             string  `yaml:"method"`
	StepSize           float64 `yaml:"step_size"`
	DownsamplingMethod string  `yaml:"downsampling_method"`
	Width              int     `yaml:"width"`
	NEpochs            int     `yaml:"nepochs"`
	DataAug            bool    `yaml:"data_aug"`
	LR                 float64 `yaml:"lr"`
	Momentum           float64 `yaml:"momentum"`
	WeightDecay        float64 `yaml:"weight_decay"`
	BatchSize          int     `yaml:"batch_size"`
	TestBatchSize      int     `yaml:"test_batch_size"`
	BatchDenom         int     `yaml:"batch_denom"`

	BoundaryEpochs []int     `yaml:"boundary_epochs"`
	DecayRates     []float64 `yaml:"decay_rates"`

	DataDir  string `yaml:"data_dir"`
	Download bool   `yaml:"download"`
	Mirror   string `yaml:"mirror"`
	SaveDir  string `yaml:"save_dir"`
	Seed     int64  `yaml:"seed"`
	Debug    bool   `yaml:"debug"`
	LogFile  string `yaml:"log_file"`
	Plot     string `yaml:"plot"`

	MaxTrainSamples int  `yaml:"max_train_samples"`
	MaxTestSamples  int  `yaml:"max_test_samples"`
	Synthetic       bool `yaml:"synthetic"`
}

// Defaults returns the settings of the reference MNIST experiment.
func Defaults() *Hyperparams {
	return &Hyperparams{
		Network:            model.NetworkODE,
		Tol:                1e-3,
		Method:             string(ode.Dopri5),
		StepSize:           0.1,
		DownsamplingMethod: model.DownsampleConv,
		Width:              64,
		NEpochs:            160,
		DataAug:            true,
		LR:                 0.1,
		BatchSize:          128,
		TestBatchSize:      1000,
		BatchDenom:         128,
		BoundaryEpochs:     []int{60, 100, 140},
		DecayRates:         []float64{1, 0.1, 0.01, 0.001},
		DataDir:            "./data/mnist",
		Download:           true,
		Mirror:             mnist.DefaultMirror,
		SaveDir:            "./experiment1",
	}
}

// Load reads a YAML file on top of Defaults. Unknown keys are rejected.
func Load(path string) (*Hyperparams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	h, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return h, nil
}

// Parse decodes YAML on top of Defaults and validates the result.
func Parse(data []byte) (*Hyperparams, error) {
	h := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(h); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Marshal encodes the hyperparameters as YAML.
func (h *Hyperparams) Marshal() (string, error) {
	out, err := yaml.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Validate verifies the hyperparameters describe a runnable experiment.
func (h *Hyperparams) Validate() error {
	if h == nil {
		return errors.New("config is nil")
	}
	switch h.Network {
	case model.NetworkODE, model.NetworkResNet:
	default:
		return fmt.Errorf("network must be %s or %s (got %q)", model.NetworkODE, model.NetworkResNet, h.Network)
	}
	switch h.DownsamplingMethod {
	case model.DownsampleConv, model.DownsampleRes:
	default:
		return fmt.Errorf("downsampling_method must be %s or %s (got %q)",
			model.DownsampleConv, model.DownsampleRes, h.DownsamplingMethod)
	}
	if _, err := ode.ParseMethod(h.Method); err != nil {
		return err
	}
	if h.Tol <= 0 {
		return fmt.Errorf("tol must be > 0 (got %g)", h.Tol)
	}
	if h.StepSize <= 0 {
		return fmt.Errorf("step_size must be > 0 (got %g)", h.StepSize)
	}
	for name, v := range map[string]int{
		"width":           h.Width,
		"nepochs":         h.NEpochs,
		"batch_size":      h.BatchSize,
		"test_batch_size": h.TestBatchSize,
		"batch_denom":     h.BatchDenom,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0 (got %d)", name, v)
		}
	}
	if err := model.CheckWidth(h.Width); err != nil {
		return err
	}
	if h.LR <= 0 {
		return fmt.Errorf("lr must be > 0 (got %g)", h.LR)
	}
	if h.Momentum < 0 || h.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", h.Momentum)
	}
	if h.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", h.WeightDecay)
	}
	if len(h.DecayRates) != len(h.BoundaryEpochs)+1 {
		return fmt.Errorf("decay_rates needs %d entries for %d boundary_epochs (got %d)",
			len(h.BoundaryEpochs)+1, len(h.BoundaryEpochs), len(h.DecayRates))
	}
	for i := 1; i < len(h.BoundaryEpochs); i++ {
		if h.BoundaryEpochs[i] < h.BoundaryEpochs[i-1] {
			return fmt.Errorf("boundary_epochs must be non-decreasing (got %v)", h.BoundaryEpochs)
		}
	}
	if h.MaxTrainSamples < 0 || h.MaxTestSamples < 0 {
		return errors.New("max_train_samples and max_test_samples must be >= 0")
	}
	if !h.Synthetic && h.DataDir == "" {
		return errors.New("data_dir must be set unless synthetic data is used")
	}
	return nil
}

// SolverOptions converts the solver settings for the ode package.
func (h *Hyperparams) SolverOptions() ode.Options {
	opts := ode.DefaultOptions().WithTolerance(h.Tol)
	opts.Method = ode.Method(h.Method)
	opts.StepSize = h.StepSize
	return opts
}

// ModelConfig converts the architecture settings for the model package.
func (h *Hyperparams) ModelConfig() model.Config {
	return model.Config{
		Network:      h.Network,
		Downsampling: h.DownsamplingMethod,
		Width:        h.Width,
		Classes:      mnist.Classes,
		Solver:       h.SolverOptions(),
		Adjoint:      h.Adjoint,
	}
}
