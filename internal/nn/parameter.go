package nn

import (
	"github.com/born-ml/neuralode/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Example:
//
//	weight := nn.NewParameter("weight", weightTensor)
//	w := weight.Tensor()
//	grad := weight.Grad() // after the backward pass
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Grad returns the gradient tensor, or nil before the backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// CollectGrads copies gradients for params out of a tape gradient map and
// returns the map keyed by parameter tensors, as optimizers expect.
// Parameters that did not receive a gradient keep a nil Grad.
func CollectGrads[B tensor.Backend](
	params []*Parameter[B],
	grads map[*tensor.RawTensor]*tensor.RawTensor,
) map[*tensor.RawTensor]*tensor.RawTensor {
	out := make(map[*tensor.RawTensor]*tensor.RawTensor, len(params))
	for _, p := range params {
		raw := p.Tensor().Raw()
		g, ok := grads[raw]
		if !ok {
			p.ZeroGrad()
			continue
		}
		p.SetGrad(tensor.New[float32, B](g, p.Tensor().Backend()))
		out[raw] = g
	}
	return out
}
