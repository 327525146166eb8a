// Package nn implements the neural network modules used by the ODE classifier.
//
// This package provides building blocks for constructing networks:
//   - Module interface: base interface for all NN components
//   - Parameter: trainable tensors with names
//   - Layers: Conv2D, Linear, GroupNorm, ReLU, AdaptiveAvgPool2D, Flatten
//   - Sequential: container for stacking layers
//   - CrossEntropyLoss
//   - State dicts and safetensors checkpoints
//
// Design inspired by PyTorch's nn.Module but adapted for Go generics.
package nn

import (
	"github.com/born-ml/neuralode/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[B](
//	    nn.NewConv2D(1, 64, 3, 3, 1, 0, true, backend),
//	    nn.Norm(64, backend),
//	    nn.NewReLU[B](),
//	)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module,
	// including those of nested modules, in a stable order.
	Parameters() []*Parameter[B]
}

// CountParameters returns the total number of scalar parameters in m.
func CountParameters[B tensor.Backend](m Module[B]) int {
	n := 0
	for _, p := range m.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}
