package ode

import (
	"errors"
	"fmt"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Func is a parametric vector field with an evaluation counter, such as ODEFunc.
type Func[B tensor.Backend] interface {
	Dynamics[B]
	Parameters() []*nn.Parameter[B]
	NFE() int
	ResetNFE()
}

// ODEBlock maps h(0) to h(1) by integrating Func over [0, 1].
type ODEBlock[B tensor.Backend] struct {
	fn      Func[B]
	opts    Options
	adjoint bool
	stats   Stats
}

// NewODEBlock creates an ODE block.
//
// Parameters:
//   - fn: dynamics integrated over [0, 1]; its NFE counter is exposed by the block
//   - opts: solver settings; zero fields take the DefaultOptions values
//   - adjoint: compute gradients with the adjoint method instead of
//     backpropagating through the solver (needs an autodiff backend)
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	block := ode.NewODEBlock[*autodiff.AutodiffBackend[*cpu.CPUBackend]](
//	    ode.NewODEFunc(64, backend),
//	    ode.DefaultOptions().WithTolerance(1e-3),
//	    false,
//	)
//	out := block.Forward(features) // same shape as features
func NewODEBlock[B tensor.Backend](fn Func[B], opts Options, adjoint bool) *ODEBlock[B] {
	return &ODEBlock[B]{fn: fn, opts: opts.withDefaults(), adjoint: adjoint}
}

// Integrate solves the block's ODE from x at t=0 and returns the state at t=1.
func (b *ODEBlock[B]) Integrate(x *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	var (
		y   State[B]
		st  Stats
		err error
	)
	if b.adjoint {
		y, st, err = solveAdjoint(b.fn, State[B]{x}, 0, 1, b.opts)
	} else {
		y, st, err = Solve[B](b.fn, State[B]{x}, 0, 1, b.opts)
	}
	b.stats = st
	if err != nil {
		return nil, err
	}
	return y[0], nil
}

// Forward implements nn.Module. It panics with the solver error if
// integration fails; use Integrate to handle it.
func (b *ODEBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	out, err := b.Integrate(x)
	if err != nil {
		panic(fmt.Errorf("odeblock: %w", err))
	}
	return out
}

// Parameters returns the parameters of the dynamics.
func (b *ODEBlock[B]) Parameters() []*nn.Parameter[B] {
	return b.fn.Parameters()
}

// Func returns the dynamics.
func (b *ODEBlock[B]) Func() Func[B] {
	return b.fn
}

// Options returns the solver options in use.
func (b *ODEBlock[B]) Options() Options {
	return b.opts
}

// Adjoint reports whether the block uses the adjoint method.
func (b *ODEBlock[B]) Adjoint() bool {
	return b.adjoint
}

// LastStats returns the solver statistics of the most recent forward pass.
func (b *ODEBlock[B]) LastStats() Stats {
	return b.stats
}

// NFE returns the number of dynamics evaluations since the last reset.
// Read it after the forward pass for NFE-F and after the backward pass for NFE-B.
func (b *ODEBlock[B]) NFE() int {
	return b.fn.NFE()
}

// ResetNFE zeroes the evaluation counter.
func (b *ODEBlock[B]) ResetNFE() {
	b.fn.ResetNFE()
}

func (b *ODEBlock[B]) String() string {
	return fmt.Sprintf("ODEBlock(method=%s, rtol=%g, atol=%g, adjoint=%v)",
		b.opts.Method, b.opts.RTol, b.opts.ATol, b.adjoint)
}

// Catch runs fn and returns a solver failure raised by a panicking Forward
// or adjoint backward pass as an error. Other panics propagate.
func Catch(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok && isSolverError(e) {
			err = e
			return
		}
		panic(r)
	}()
	fn()
	return nil
}

func isSolverError(err error) bool {
	return errors.Is(err, ErrMaxSteps) || errors.Is(err, ErrStepUnderflow) || errors.Is(err, ErrAdjointBackend)
}
