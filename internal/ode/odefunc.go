package ode

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// ConcatConv2D is a convolution whose input gets an extra leading channel
// filled with the current time t, so the layer can depend on t.
//
// Input shape:  [N, in, H, W]
// Output shape: [N, out, H', W']
type ConcatConv2D[B tensor.Backend] struct {
	conv    *nn.Conv2D[B]
	backend B
}

// NewConcatConv2D creates a ConcatConv2D with a square kernel and bias.
func NewConcatConv2D[B tensor.Backend](in, out, kernel, stride, padding int, backend B) *ConcatConv2D[B] {
	return &ConcatConv2D[B]{
		conv:    nn.NewConv2D(in+1, out, kernel, kernel, stride, padding, true, backend),
		backend: backend,
	}
}

// Forward convolves cat([t, x], dim=1).
func (c *ConcatConv2D[B]) Forward(t float32, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("concatconv2d: expected 4D input [N,C,H,W], got %v", shape))
	}
	tt := tensor.Full[float32](tensor.Shape{shape[0], 1, shape[2], shape[3]}, t, c.backend)
	return c.conv.Forward(tensor.Cat([]*tensor.Tensor[float32, B]{tt, x}, 1))
}

// Parameters returns the convolution weight and bias.
func (c *ConcatConv2D[B]) Parameters() []*nn.Parameter[B] {
	return c.conv.Parameters()
}

func (c *ConcatConv2D[B]) String() string {
	return "Concat" + c.conv.String()
}

// ODEFunc is the dynamics network of an ODE block:
//
//	norm1 -> relu -> ConcatConv2D -> norm2 -> relu -> ConcatConv2D -> norm3
//
// All layers keep the channel count and spatial size. Every evaluation
// increments the function-evaluation counter.
type ODEFunc[B tensor.Backend] struct {
	dim   int
	norm1 *nn.GroupNorm[B]
	relu  *nn.ReLU[B]
	conv1 *ConcatConv2D[B]
	norm2 *nn.GroupNorm[B]
	conv2 *ConcatConv2D[B]
	norm3 *nn.GroupNorm[B]
	nfe   int
}

// NewODEFunc creates the dynamics for feature maps with dim channels.
//
// The vector field is norm, ReLU, a 3x3 ConcatConv2D, norm, ReLU, a second
// ConcatConv2D and a final norm. Every norm is GroupNorm(min(32, dim), dim),
// so dim must be at most 32 or a multiple of 32.
//
// Parameters:
//   - dim: channels of the state, kept unchanged by the field
//   - backend: backend the parameters live on
//
// Returns dynamics that count one evaluation per Forward call.
func NewODEFunc[B tensor.Backend](dim int, backend B) *ODEFunc[B] {
	return &ODEFunc[B]{
		dim:   dim,
		norm1: nn.Norm(dim, backend),
		relu:  nn.NewReLU[B](),
		conv1: NewConcatConv2D(dim, dim, 3, 1, 1, backend),
		norm2: nn.Norm(dim, backend),
		conv2: NewConcatConv2D(dim, dim, 3, 1, 1, backend),
		norm3: nn.Norm(dim, backend),
	}
}

// Forward evaluates the dynamics at time t for a single feature map.
func (f *ODEFunc[B]) Forward(t float32, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	f.nfe++
	out := f.relu.Forward(f.norm1.Forward(x))
	out = f.conv1.Forward(t, out)
	out = f.relu.Forward(f.norm2.Forward(out))
	out = f.conv2.Forward(t, out)
	return f.norm3.Forward(out)
}

// Eval implements Dynamics for a one-tensor state.
func (f *ODEFunc[B]) Eval(t float32, y State[B]) State[B] {
	if len(y) != 1 {
		panic(fmt.Sprintf("odefunc: expected a single-tensor state, got %d tensors", len(y)))
	}
	return State[B]{f.Forward(t, y[0])}
}

// Parameters returns the parameters of every layer in evaluation order.
func (f *ODEFunc[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, f.norm1.Parameters()...)
	params = append(params, f.conv1.Parameters()...)
	params = append(params, f.norm2.Parameters()...)
	params = append(params, f.conv2.Parameters()...)
	params = append(params, f.norm3.Parameters()...)
	return params
}

// NFE returns the number of evaluations since the last reset.
func (f *ODEFunc[B]) NFE() int {
	return f.nfe
}

// ResetNFE zeroes the evaluation counter.
func (f *ODEFunc[B]) ResetNFE() {
	f.nfe = 0
}

func (f *ODEFunc[B]) String() string {
	return fmt.Sprintf("ODEFunc(dim=%d, %s, %s)", f.dim, f.conv1, f.norm1)
}
