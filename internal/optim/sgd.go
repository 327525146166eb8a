package optim

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum and
// L2 weight decay:
//
//	g = grad + weight_decay * param
//	v = momentum * v + g          (when momentum > 0)
//	param = param - lr * v        (or lr * g without momentum)
//
// Updates are applied directly to parameter buffers and are never recorded
// on a gradient tape.
type SGD[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  map[*nn.Parameter[B]][]float32
}

// SGDConfig contains configuration for the SGD optimizer.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor in [0, 1)
	WeightDecay float32 // L2 penalty
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[B]{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[*nn.Parameter[B]][]float32),
	}
}

// Step performs a single optimization step.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		p := param.Tensor().Raw().AsFloat32()
		g := grad.AsFloat32()
		if len(g) != len(p) {
			panic(fmt.Sprintf("sgd: gradient for %s has %d elements, parameter has %d", param.Name(), len(g), len(p)))
		}

		if s.momentum == 0 {
			for i := range p {
				p[i] -= s.lr * (g[i] + s.weightDecay*p[i])
			}
			continue
		}

		v, ok := s.velocities[param]
		if !ok {
			v = make([]float32, len(p))
			s.velocities[param] = v
		}
		for i := range p {
			v[i] = s.momentum*v[i] + g[i] + s.weightDecay*p[i]
			p[i] -= s.lr * v[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// StateDict returns momentum buffers keyed "velocity.<param index>".
// Empty without momentum.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, param := range s.params {
		v, ok := s.velocities[param]
		if !ok {
			continue
		}
		raw := tensor.MustNewRaw(param.Tensor().Shape(), tensor.Float32, param.Tensor().Device())
		copy(raw.AsFloat32(), v)
		stateDict[fmt.Sprintf("velocity.%d", i)] = raw
	}
	return stateDict
}

// LoadStateDict restores momentum buffers saved by StateDict.
func (s *SGD[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	velocities := make(map[*nn.Parameter[B]][]float32)
	for i, param := range s.params {
		raw, ok := stateDict[fmt.Sprintf("velocity.%d", i)]
		if !ok {
			continue
		}
		if !raw.Shape().Equal(param.Tensor().Shape()) || raw.DType() != tensor.Float32 {
			return fmt.Errorf("velocity mismatch for parameter %d: expected %v float32, got %v %s",
				i, param.Tensor().Shape(), raw.Shape(), raw.DType())
		}
		velocities[param] = append([]float32(nil), raw.AsFloat32()...)
	}
	s.velocities = velocities
	return nil
}
