package ode

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// solveAdjoint integrates fn with recording paused and records a single
// AdjointOp in its place.
func solveAdjoint[B tensor.Backend](fn Func[B], y0 State[B], t0, t1 float64, opts Options) (State[B], Stats, error) {
	if len(y0) != 1 {
		return nil, Stats{}, fmt.Errorf("ode: adjoint needs a single-tensor state, got %d tensors", len(y0))
	}
	backend := y0[0].Backend()
	bc, ok := any(backend).(autodiff.BackwardCapable)
	if !ok {
		return nil, Stats{}, fmt.Errorf("%w (got %s)", ErrAdjointBackend, backend.Name())
	}

	var (
		y   State[B]
		st  Stats
		err error
	)
	autodiff.NoGrad(bc, func() {
		y, st, err = Solve[B](fn, y0, t0, t1, opts)
	})
	if err != nil {
		return nil, st, err
	}
	y = y.Detach()

	bc.GetTape().Record(&AdjointOp[B]{
		fn:      fn,
		opts:    opts,
		t0:      t0,
		t1:      t1,
		backend: backend,
		z0:      y0[0].Raw(),
		z1:      y[0].Raw(),
		params:  fn.Parameters(),
	})
	return y, st, nil
}

// AdjointOp is the tape entry for an ODE solved with the adjoint method.
//
// Its inputs are z(t0) followed by every dynamics parameter; its output is
// z(t1). Backward integrates the augmented system
//
//	dz/dt  = f(t, z)
//	da/dt  = -a^T df/dz
//	dθ/dt  = -a^T df/dθ
//
// from t1 back to t0 with a(t1) = dL/dz(t1) and θ(t1) = 0, then returns
// a(t0) and θ(t0). Each augmented evaluation computes its vector-Jacobian
// products on a private tape.
type AdjointOp[B tensor.Backend] struct {
	fn      Func[B]
	opts    Options
	t0, t1  float64
	backend B
	z0, z1  *tensor.RawTensor
	params  []*nn.Parameter[B]
}

// Inputs returns z(t0) and the parameter tensors.
func (op *AdjointOp[B]) Inputs() []*tensor.RawTensor {
	inputs := make([]*tensor.RawTensor, 0, 1+len(op.params))
	inputs = append(inputs, op.z0)
	for _, p := range op.params {
		inputs = append(inputs, p.Tensor().Raw())
	}
	return inputs
}

// Output returns z(t1).
func (op *AdjointOp[B]) Output() *tensor.RawTensor {
	return op.z1
}

// Backward solves the adjoint system. It panics if the solver fails.
func (op *AdjointOp[B]) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	bc := any(op.backend).(autodiff.BackwardCapable)

	var grads []*tensor.RawTensor
	autodiff.NoGrad(bc, func() {
		aug := State[B]{
			tensor.New[float32](op.z1, op.backend),
			tensor.New[float32](outputGrad, op.backend),
		}
		for _, p := range op.params {
			aug = append(aug, tensor.Zeros[float32](p.Tensor().Shape(), op.backend))
		}

		out, _, err := Solve[B](DynamicsFunc[B](op.augmented), aug, op.t1, op.t0, op.opts)
		if err != nil {
			panic(fmt.Errorf("adjoint: %w", err))
		}
		grads = make([]*tensor.RawTensor, 0, len(out)-1)
		for _, g := range out[1:] {
			grads = append(grads, g.Raw())
		}
	})
	return grads
}

// augmented evaluates [f, -a^T df/dz, -a^T df/dθ...] at (t, [z, a, ...]).
func (op *AdjointOp[B]) augmented(t float32, s State[B]) State[B] {
	bc := any(op.backend).(autodiff.BackwardCapable)
	z, a := s[0], s[1]

	local := autodiff.NewGradientTape()
	local.StartRecording()
	var f State[B]
	autodiff.WithTape(bc, local, func() {
		f = op.fn.Eval(t, State[B]{z})
	})
	vjp := local.BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{f[0].Raw(): a.Raw()}, bc.Base())
	local.Clear()

	out := make(State[B], 0, len(s))
	out = append(out, f[0], op.negated(vjp[z.Raw()], z.Shape()))
	for _, p := range op.params {
		out = append(out, op.negated(vjp[p.Tensor().Raw()], p.Tensor().Shape()))
	}
	return out
}

func (op *AdjointOp[B]) negated(g *tensor.RawTensor, shape tensor.Shape) *tensor.Tensor[float32, B] {
	if g == nil {
		return tensor.Zeros[float32](shape, op.backend)
	}
	return tensor.New[float32](g, op.backend).MulScalar(-1)
}
