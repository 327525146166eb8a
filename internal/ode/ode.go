// Package ode integrates learned vector fields for continuous-depth models.
//
// A Dynamics value defines dy/dt = f(t, y) for a tuple state of float32
// tensors. Solve integrates it with one of the fixed-grid methods (euler,
// midpoint, rk4) or the adaptive Dormand–Prince 5(4) method (dopri5).
//
// ODEBlock wraps a parametric Dynamics as an nn.Module that maps h(0) to h(1).
// In direct mode the solver's tensor operations are recorded on the gradient
// tape and backpropagated like any other layer. In adjoint mode only a single
// operation is recorded and gradients are obtained by integrating the adjoint
// system backward in time.
//
// Example:
//
//	fn := ode.NewODEFunc(64, backend)
//	block := ode.NewODEBlock[*autodiff.AutodiffBackend[*cpu.CPUBackend]](fn, ode.DefaultOptions(), false)
//	out := block.Forward(x)
//	nfeForward := block.NFE()
//	block.ResetNFE()
package ode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/neuralode/internal/tensor"
)

var (
	// ErrMaxSteps is returned when the solver needs more steps than Options.MaxSteps.
	ErrMaxSteps = errors.New("ode: maximum number of steps exceeded")

	// ErrStepUnderflow is returned when the adaptive step size becomes too small
	// to make progress.
	ErrStepUnderflow = errors.New("ode: step size underflow")

	// ErrAdjointBackend is returned when the adjoint method is requested on a
	// backend that does not record gradients.
	ErrAdjointBackend = errors.New("ode: adjoint method requires an autodiff backend")
)

// State is the tuple of tensors being integrated.
type State[B tensor.Backend] []*tensor.Tensor[float32, B]

// NumElements returns the total number of scalar components in the state.
func (s State[B]) NumElements() int {
	n := 0
	for _, t := range s {
		n += t.NumElements()
	}
	return n
}

// Detach returns a copy of the state that no recorded operation references.
func (s State[B]) Detach() State[B] {
	out := make(State[B], len(s))
	for i, t := range s {
		out[i] = t.Detach()
	}
	return out
}

// Dynamics is a vector field dy/dt = f(t, y).
type Dynamics[B tensor.Backend] interface {
	Eval(t float32, y State[B]) State[B]
}

// DynamicsFunc adapts an ordinary function to the Dynamics interface.
type DynamicsFunc[B tensor.Backend] func(t float32, y State[B]) State[B]

// Eval calls f(t, y).
func (f DynamicsFunc[B]) Eval(t float32, y State[B]) State[B] {
	return f(t, y)
}

// Method is an integration scheme.
type Method string

// Supported methods.
const (
	Euler    Method = "euler"
	Midpoint Method = "midpoint"
	RK4      Method = "rk4"
	Dopri5   Method = "dopri5"
)

// Methods lists the supported methods.
func Methods() []Method {
	return []Method{Dopri5, Euler, Midpoint, RK4}
}

// ParseMethod parses a method name (case-insensitive).
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case Euler, Midpoint, RK4, Dopri5:
		return m, nil
	}
	return "", fmt.Errorf("ode: unknown method %q (want one of %v)", s, Methods())
}

// Adaptive reports whether the method chooses its own step sizes.
func (m Method) Adaptive() bool {
	return m == Dopri5
}

// String returns the method name.
func (m Method) String() string {
	return string(m)
}

// Options configures Solve.
//
// RTol, ATol, Safety, IFactor, DFactor and MaxSteps apply to adaptive
// methods; StepSize to fixed-grid methods. Zero fields take the defaults of
// DefaultOptions.
type Options struct {
	Method   Method
	RTol     float64
	ATol     float64
	StepSize float64
	MaxSteps int
	Safety   float64
	IFactor  float64
	DFactor  float64
}

// DefaultOptions returns dopri5 with tolerance 1e-3.
func DefaultOptions() Options {
	return Options{
		Method:   Dopri5,
		RTol:     1e-3,
		ATol:     1e-3,
		StepSize: 0.1,
		MaxSteps: 10000,
		Safety:   0.9,
		IFactor:  10,
		DFactor:  0.2,
	}
}

// WithTolerance returns a copy of o with both RTol and ATol set to tol.
func (o Options) WithTolerance(tol float64) Options {
	o.RTol = tol
	o.ATol = tol
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Method == "" {
		o.Method = d.Method
	}
	if o.RTol == 0 {
		o.RTol = d.RTol
	}
	if o.ATol == 0 {
		o.ATol = d.ATol
	}
	if o.StepSize == 0 {
		o.StepSize = d.StepSize
	}
	if o.MaxSteps == 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.Safety == 0 {
		o.Safety = d.Safety
	}
	if o.IFactor == 0 {
		o.IFactor = d.IFactor
	}
	if o.DFactor == 0 {
		o.DFactor = d.DFactor
	}
	return o
}

// Validate checks that the options describe a usable solver.
func (o Options) Validate() error {
	o = o.withDefaults()
	if _, err := ParseMethod(string(o.Method)); err != nil {
		return err
	}
	switch {
	case o.RTol < 0 || o.ATol < 0:
		return fmt.Errorf("ode: tolerances must be non-negative (rtol=%g, atol=%g)", o.RTol, o.ATol)
	case o.StepSize < 0:
		return fmt.Errorf("ode: step size must be positive, got %g", o.StepSize)
	case o.MaxSteps < 0:
		return fmt.Errorf("ode: max steps must be positive, got %d", o.MaxSteps)
	case o.DFactor > 1 || o.IFactor < 1:
		return fmt.Errorf("ode: need dfactor <= 1 <= ifactor, got %g and %g", o.DFactor, o.IFactor)
	}
	return nil
}

// Stats describes the work done by one Solve call.
type Stats struct {
	Steps    int // accepted steps
	Rejected int // rejected steps (adaptive methods only)
	NFE      int // dynamics evaluations
}
