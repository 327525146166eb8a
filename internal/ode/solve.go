package ode

import (
	"fmt"
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Solve integrates f from t0 to t1 starting at y0 and returns the state at t1.
//
// t1 < t0 integrates backward in time. A zero-length interval returns y0
// without evaluating f. The tensor operations that form the solution are
// issued through the state's backend, so they are recorded on a gradient
// tape when one is recording; step-size control works on raw data and is
// never recorded.
//
// Parameters:
//   - f: the vector field dy/dt = f(t, y)
//   - y0: initial state; every tensor keeps its shape
//   - t0, t1: integration interval
//   - opts: method and tolerances; zero fields take DefaultOptions values
//
// Returns the state at t1 and the step statistics. ErrMaxSteps and
// ErrStepUnderflow report adaptive integrations that could not finish.
//
// Example:
//
//	decay := ode.DynamicsFunc[B](func(_ float32, y ode.State[B]) ode.State[B] {
//	    return ode.State[B]{y[0].MulScalar(-1)}
//	})
//	y1, stats, err := ode.Solve[B](decay, ode.State[B]{y0}, 0, 1, ode.DefaultOptions())
func Solve[B tensor.Backend](f Dynamics[B], y0 State[B], t0, t1 float64, opts Options) (State[B], Stats, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, Stats{}, err
	}
	if len(y0) == 0 {
		return nil, Stats{}, fmt.Errorf("ode: empty initial state")
	}
	if math.IsNaN(t0) || math.IsNaN(t1) {
		return nil, Stats{}, fmt.Errorf("ode: invalid interval [%g, %g]", t0, t1)
	}
	if t0 == t1 {
		return y0, Stats{}, nil
	}

	counted := &counter[B]{f: f}
	var (
		y   State[B]
		st  Stats
		err error
	)
	switch opts.Method {
	case Dopri5:
		y, st, err = dopri5(counted, y0, t0, t1, opts)
	default:
		y, st, err = fixedGrid(counted, y0, t0, t1, opts)
	}
	st.NFE = counted.n
	return y, st, err
}

type counter[B tensor.Backend] struct {
	f Dynamics[B]
	n int
}

func (c *counter[B]) Eval(t float64, y State[B]) State[B] {
	c.n++
	out := c.f.Eval(float32(t), y)
	if len(out) != len(y) {
		panic(fmt.Sprintf("ode: dynamics returned %d tensors for a state of %d", len(out), len(y)))
	}
	return out
}

// combine returns y + h * sum_j coeffs[j] * ks[j], skipping zero coefficients.
func combine[B tensor.Backend](y State[B], h float64, coeffs []float64, ks []State[B]) State[B] {
	out := make(State[B], len(y))
	for i := range y {
		acc := y[i]
		for j, c := range coeffs {
			if c == 0 {
				continue
			}
			acc = acc.Add(ks[j][i].MulScalar(h * c))
		}
		out[i] = acc
	}
	return out
}

// fixedGrid takes steps of opts.StepSize towards t1, clipping the last one.
func fixedGrid[B tensor.Backend](f *counter[B], y0 State[B], t0, t1 float64, opts Options) (State[B], Stats, error) {
	dir := math.Copysign(1, t1-t0)
	n := int(math.Ceil(math.Abs(t1-t0)/opts.StepSize - 1e-9))
	if n > opts.MaxSteps {
		return nil, Stats{}, fmt.Errorf("%w: %d fixed steps of %g needed", ErrMaxSteps, n, opts.StepSize)
	}

	var st Stats
	y := y0
	t := t0
	for k := 0; k < n; k++ {
		next := t0 + dir*float64(k+1)*opts.StepSize
		if k == n-1 || (next-t1)*dir > 0 {
			next = t1
		}
		h := next - t
		switch opts.Method {
		case Euler:
			y = combine(y, h, []float64{1}, []State[B]{f.Eval(t, y)})
		case Midpoint:
			k1 := f.Eval(t, y)
			mid := combine(y, h/2, []float64{1}, []State[B]{k1})
			y = combine(y, h, []float64{1}, []State[B]{f.Eval(t+h/2, mid)})
		case RK4:
			y = rk4Step(f, t, h, y)
		default:
			return nil, st, fmt.Errorf("ode: method %q has no fixed-grid step", opts.Method)
		}
		t = next
		st.Steps++
	}
	return y, st, nil
}

// rk4Step is the 3/8-rule fourth-order Runge–Kutta step.
func rk4Step[B tensor.Backend](f *counter[B], t, h float64, y State[B]) State[B] {
	k1 := f.Eval(t, y)
	k2 := f.Eval(t+h/3, combine(y, h, []float64{1.0 / 3}, []State[B]{k1}))
	k3 := f.Eval(t+2*h/3, combine(y, h, []float64{-1.0 / 3, 1}, []State[B]{k1, k2}))
	k4 := f.Eval(t+h, combine(y, h, []float64{1, -1, 1}, []State[B]{k1, k2, k3}))
	return combine(y, h, []float64{1.0 / 8, 3.0 / 8, 3.0 / 8, 1.0 / 8}, []State[B]{k1, k2, k3, k4})
}
