// Package model assembles the MNIST classifier: a convolutional
// downsampling stage, a feature stage (one ODE block or a stack of residual
// blocks) and a fully-connected head.
package model

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/ode"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Feature stage kinds.
const (
	NetworkODE    = "odenet"
	NetworkResNet = "resnet"
)

// Downsampling stage kinds.
const (
	DownsampleConv = "conv"
	DownsampleRes  = "res"
)

// resnetDepth is the number of residual blocks standing in for the ODE block.
const resnetDepth = 6

// Config describes the architecture.
type Config struct {
	Network      string // odenet or resnet
	Downsampling string // conv or res
	Width        int
	Classes      int
	Solver       ode.Options
	Adjoint      bool
}

// DefaultConfig is the 64-wide ODE network with conv downsampling.
func DefaultConfig() Config {
	return Config{
		Network:      NetworkODE,
		Downsampling: DownsampleConv,
		Width:        64,
		Classes:      10,
		Solver:       ode.DefaultOptions(),
	}
}

// CheckWidth reports whether every normalization layer can split width
// channels into min(32, width) groups.
func CheckWidth(width int) error {
	if width <= 0 {
		return fmt.Errorf("model: width must be positive, got %d", width)
	}
	if groups := min(32, width); width%groups != 0 {
		return fmt.Errorf("model: width %d cannot be split into %d norm groups (use <= 32 or a multiple of 32)", width, groups)
	}
	return nil
}

// Net is the assembled classifier.
type Net[B tensor.Backend] struct {
	cfg   Config
	seq   *nn.Sequential[B]
	block *ode.ODEBlock[B]
}

// New builds the classifier described by cfg.
func New[B tensor.Backend](cfg Config, backend B) (*Net[B], error) {
	if err := CheckWidth(cfg.Width); err != nil {
		return nil, err
	}
	if cfg.Classes <= 0 {
		cfg.Classes = 10
	}
	down, err := DownsamplingLayers(cfg.Downsampling, cfg.Width, backend)
	if err != nil {
		return nil, err
	}
	features, block, err := FeatureLayers(cfg.Network, cfg.Width, cfg.Solver, cfg.Adjoint, backend)
	if err != nil {
		return nil, err
	}
	fc := FCLayers(cfg.Width, cfg.Classes, backend)

	seq := nn.NewSequential[B]()
	seq.Add(down...)
	seq.Add(features...)
	seq.Add(fc...)
	return &Net[B]{cfg: cfg, seq: seq, block: block}, nil
}

// DownsamplingLayers maps [N, 1, 28, 28] images to [N, width, 6, 6] (conv)
// or [N, width, 7, 7] (res) feature maps.
func DownsamplingLayers[B tensor.Backend](method string, width int, backend B) ([]nn.Module[B], error) {
	switch method {
	case DownsampleConv:
		return []nn.Module[B]{
			nn.NewConv2D(1, width, 3, 3, 1, 0, true, backend),
			nn.Norm(width, backend),
			nn.NewReLU[B](),
			nn.NewConv2D(width, width, 4, 4, 2, 1, true, backend),
			nn.Norm(width, backend),
			nn.NewReLU[B](),
			nn.NewConv2D(width, width, 4, 4, 2, 1, true, backend),
		}, nil
	case DownsampleRes:
		return []nn.Module[B]{
			nn.NewConv2D(1, width, 3, 3, 1, 0, true, backend),
			NewResBlock(width, width, 2, backend),
			NewResBlock(width, width, 2, backend),
		}, nil
	}
	return nil, fmt.Errorf("model: unknown downsampling method %q (want %s or %s)", method, DownsampleConv, DownsampleRes)
}

// FeatureLayers returns the feature stage. For odenet the single ODE block is
// also returned so its NFE counter can be read.
func FeatureLayers[B tensor.Backend](
	network string,
	width int,
	opts ode.Options,
	adjoint bool,
	backend B,
) ([]nn.Module[B], *ode.ODEBlock[B], error) {
	switch network {
	case NetworkODE:
		if err := opts.Validate(); err != nil {
			return nil, nil, err
		}
		block := ode.NewODEBlock[B](ode.NewODEFunc(width, backend), opts, adjoint)
		return []nn.Module[B]{block}, block, nil
	case NetworkResNet:
		layers := make([]nn.Module[B], resnetDepth)
		for i := range layers {
			layers[i] = NewResBlock(width, width, 1, backend)
		}
		return layers, nil, nil
	}
	return nil, nil, fmt.Errorf("model: unknown network %q (want %s or %s)", network, NetworkODE, NetworkResNet)
}

// FCLayers is the classifier head: norm, relu, global average pool, flatten, linear.
func FCLayers[B tensor.Backend](width, classes int, backend B) []nn.Module[B] {
	return []nn.Module[B]{
		nn.Norm(width, backend),
		nn.NewReLU[B](),
		nn.NewAdaptiveAvgPool2D[B](),
		nn.NewFlatten[B](),
		nn.NewLinear(width, classes, backend),
	}
}

// Forward maps images [N, 1, 28, 28] to logits [N, classes].
// It panics if the ODE solver fails; Logits returns the error instead.
func (n *Net[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return n.seq.Forward(x)
}

// Logits is Forward with solver failures returned as errors.
func (n *Net[B]) Logits(x *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	var out *tensor.Tensor[float32, B]
	err := ode.Catch(func() { out = n.seq.Forward(x) })
	return out, err
}

// Parameters returns all trainable parameters in layer order.
func (n *Net[B]) Parameters() []*nn.Parameter[B] {
	return n.seq.Parameters()
}

// Layers returns the flat layer list.
func (n *Net[B]) Layers() []nn.Module[B] {
	return n.seq.Modules()
}

// ODEBlock returns the ODE block, or nil for a residual network.
func (n *Net[B]) ODEBlock() *ode.ODEBlock[B] {
	return n.block
}

// Config returns the architecture the network was built with.
func (n *Net[B]) Config() Config {
	return n.cfg
}

// NFE returns the ODE block's evaluation count (0 for a residual network).
func (n *Net[B]) NFE() int {
	if n.block == nil {
		return 0
	}
	return n.block.NFE()
}

// ResetNFE zeroes the ODE block's evaluation counter.
func (n *Net[B]) ResetNFE() {
	if n.block != nil {
		n.block.ResetNFE()
	}
}
