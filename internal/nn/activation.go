package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.ReLU()
}

// Parameters returns nil; ReLU has no parameters.
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return nil
}

func (r *ReLU[B]) String() string {
	return "ReLU()"
}

// AdaptiveAvgPool2D averages every channel down to a 1x1 map:
// [N, C, H, W] -> [N, C, 1, 1].
type AdaptiveAvgPool2D[B tensor.Backend] struct{}

// NewAdaptiveAvgPool2D creates a global average pooling layer.
func NewAdaptiveAvgPool2D[B tensor.Backend]() *AdaptiveAvgPool2D[B] {
	return &AdaptiveAvgPool2D[B]{}
}

// Forward averages over the spatial dimensions.
func (p *AdaptiveAvgPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("adaptive_avg_pool2d: expected 4D input, got %v", shape))
	}
	n, c := shape[0], shape[1]
	return input.Reshape(n, c, -1).MeanDim(2, true).Reshape(n, c, 1, 1)
}

// Parameters returns nil.
func (p *AdaptiveAvgPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

func (p *AdaptiveAvgPool2D[B]) String() string {
	return "AdaptiveAvgPool2D((1, 1))"
}

// Flatten reshapes [N, ...] to [N, prod(...)].
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward flattens every dimension after the batch.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.Reshape(input.Shape()[0], -1)
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return nil
}

func (f *Flatten[B]) String() string {
	return "Flatten()"
}
