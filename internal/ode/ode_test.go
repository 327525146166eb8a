package ode

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

type adBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func decay[B tensor.Backend]() DynamicsFunc[B] {
	return func(_ float32, y State[B]) State[B] {
		return State[B]{y[0].MulScalar(-1)}
	}
}

func vec(t *testing.T, b *cpu.CPUBackend, values ...float32) State[*cpu.CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)}, b)
	require.NoError(t, err)
	return State[*cpu.CPUBackend]{x}
}

func TestParseMethod(t *testing.T) {
	for _, name := range []string{"euler", "midpoint", "rk4", "dopri5", " DOPRI5 "} {
		m, err := ParseMethod(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, m.String())
	}
	_, err := ParseMethod("adams")
	assert.Error(t, err)
	assert.True(t, Dopri5.Adaptive())
	assert.False(t, RK4.Adaptive())
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.NoError(t, Options{}.Validate())
	assert.Error(t, Options{Method: "adams"}.Validate())
	assert.Error(t, Options{RTol: -1}.Validate())
	assert.Error(t, Options{DFactor: 2}.Validate())

	o := DefaultOptions().WithTolerance(1e-5)
	assert.Equal(t, 1e-5, o.RTol)
	assert.Equal(t, 1e-5, o.ATol)
}

func TestSolve_FixedGridDecay(t *testing.T) {
	const h = 0.1
	tests := []struct {
		method Method
		factor float64
		nfe    int
	}{
		{Euler, 1 - h, 10},
		{Midpoint, 1 - h + h*h/2, 20},
		{RK4, 1 - h + h*h/2 - h*h*h/6 + h*h*h*h/24, 40},
	}
	b := cpu.New()
	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			y, st, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1, 2), 0, 1,
				Options{Method: tt.method, StepSize: h})
			require.NoError(t, err)
			want := math.Pow(tt.factor, 10)
			got := y[0].Data()
			assert.InDelta(t, want, float64(got[0]), 1e-5)
			assert.InDelta(t, 2*want, float64(got[1]), 2e-5)
			assert.Equal(t, tt.nfe, st.NFE)
			assert.Equal(t, 10, st.Steps)
			assert.Zero(t, st.Rejected)
		})
	}
}

func TestSolve_ClipsLastStep(t *testing.T) {
	b := cpu.New()
	y, st, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1), 0, 1,
		Options{Method: Euler, StepSize: 0.3})
	require.NoError(t, err)
	assert.Equal(t, 4, st.Steps)
	assert.Equal(t, 4, st.NFE)
	assert.InDelta(t, 0.7*0.7*0.7*0.9, float64(y[0].Item()), 1e-5)
}

func TestSolve_Dopri5Accuracy(t *testing.T) {
	b := cpu.New()
	y, st, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1, -3), 0, 1,
		DefaultOptions().WithTolerance(1e-6))
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-1), float64(y[0].Data()[0]), 1e-4)
	assert.InDelta(t, -3*math.Exp(-1), float64(y[0].Data()[1]), 3e-4)
	assert.Positive(t, st.Steps)
	// Two evaluations pick the first step, then six per attempt thanks to FSAL.
	assert.Equal(t, 2+6*(st.Steps+st.Rejected), st.NFE)
}

func TestSolve_LooserToleranceTakesFewerSteps(t *testing.T) {
	b := cpu.New()
	_, tight, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1), 0, 5, DefaultOptions().WithTolerance(1e-6))
	require.NoError(t, err)
	_, loose, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1), 0, 5, DefaultOptions().WithTolerance(1e-2))
	require.NoError(t, err)
	assert.Less(t, loose.NFE, tight.NFE)
}

func TestSolve_BackwardInTime(t *testing.T) {
	b := cpu.New()
	for _, opts := range []Options{
		DefaultOptions().WithTolerance(1e-6),
		{Method: RK4, StepSize: 0.05},
	} {
		y, _, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, float32(math.Exp(-1))), 1, 0, opts)
		require.NoError(t, err, opts.Method)
		assert.InDelta(t, 1.0, float64(y[0].Item()), 1e-4, opts.Method)
	}
}

func TestSolve_StepUnderflow(t *testing.T) {
	b := cpu.New()
	nan := DynamicsFunc[*cpu.CPUBackend](func(_ float32, y State[*cpu.CPUBackend]) State[*cpu.CPUBackend] {
		return State[*cpu.CPUBackend]{y[0].MulScalar(math.NaN())}
	})
	_, _, err := Solve[*cpu.CPUBackend](nan, vec(t, b, 1, 2), 0, 1, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStepUnderflow), "got %v", err)
}

func TestSolve_ZeroInterval(t *testing.T) {
	b := cpu.New()
	y0 := vec(t, b, 4)
	y, st, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), y0, 0.5, 0.5, DefaultOptions())
	require.NoError(t, err)
	assert.Same(t, y0[0], y[0])
	assert.Zero(t, st.NFE)
}

func TestSolve_MaxSteps(t *testing.T) {
	b := cpu.New()
	_, _, err := Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1), 0, 10,
		Options{Method: Dopri5, RTol: 1e-9, ATol: 1e-9, MaxSteps: 2})
	assert.True(t, errors.Is(err, ErrMaxSteps), "got %v", err)

	_, _, err = Solve[*cpu.CPUBackend](decay[*cpu.CPUBackend](), vec(t, b, 1), 0, 1,
		Options{Method: Euler, StepSize: 0.001, MaxSteps: 10})
	assert.True(t, errors.Is(err, ErrMaxSteps), "got %v", err)
}

func TestSolve_TupleState(t *testing.T) {
	b := cpu.New()
	oscillator := DynamicsFunc[*cpu.CPUBackend](func(_ float32, y State[*cpu.CPUBackend]) State[*cpu.CPUBackend] {
		return State[*cpu.CPUBackend]{y[1], y[0].MulScalar(-1)}
	})
	y0 := State[*cpu.CPUBackend]{vec(t, b, 1)[0], vec(t, b, 0)[0]}

	for _, opts := range []Options{
		{Method: RK4, StepSize: 0.01},
		DefaultOptions().WithTolerance(1e-6),
	} {
		y, _, err := Solve[*cpu.CPUBackend](oscillator, y0, 0, math.Pi/2, opts)
		require.NoError(t, err)
		assert.InDelta(t, 0, float64(y[0].Item()), 1e-4, opts.Method)
		assert.InDelta(t, -1, float64(y[1].Item()), 1e-4, opts.Method)
	}
}

func TestStepFactor(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, o.IFactor, stepFactor(0, true, o))
	assert.Equal(t, 1.0, stepFactor(1, true, o))
	assert.Equal(t, o.DFactor, stepFactor(1e6, false, o))
	assert.Equal(t, o.DFactor, stepFactor(math.NaN(), false, o))
	assert.InDelta(t, 0.9*math.Pow(2, -0.2), stepFactor(2, false, o), 1e-12)
}

func TestConcatConv2D(t *testing.T) {
	nn.Seed(1)
	b := cpu.New()
	c := NewConcatConv2D(2, 3, 3, 1, 1, b)
	params := c.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, tensor.Shape{3, 3, 3, 3}, params[0].Tensor().Shape())

	x := tensor.Zeros[float32](tensor.Shape{2, 2, 4, 4}, b)
	out0 := c.Forward(0, x)
	out1 := c.Forward(1, x)
	assert.Equal(t, tensor.Shape{2, 3, 4, 4}, out0.Shape())
	assert.NotEqual(t, out0.Data(), out1.Data(), "output should depend on t")
}

func TestODEFunc_ShapeAndNFE(t *testing.T) {
	nn.Seed(2)
	b := cpu.New()
	f := NewODEFunc(4, b)
	assert.Len(t, f.Parameters(), 10)

	x := tensor.Randn[float32](tensor.Shape{2, 4, 5, 5}, rand.New(rand.NewSource(1)), b)
	out := f.Eval(0.5, State[*cpu.CPUBackend]{x})
	assert.Equal(t, x.Shape(), out[0].Shape())
	_ = f.Forward(0, x)
	assert.Equal(t, 2, f.NFE())
	f.ResetNFE()
	assert.Zero(t, f.NFE())
}

func TestODEBlock_Forward(t *testing.T) {
	nn.Seed(3)
	b := cpu.New()
	block := NewODEBlock[*cpu.CPUBackend](NewODEFunc(4, b), DefaultOptions(), false)
	x := tensor.Randn[float32](tensor.Shape{2, 4, 4, 4}, rand.New(rand.NewSource(2)), b)

	out := block.Forward(x)
	assert.Equal(t, x.Shape(), out.Shape())
	assert.Positive(t, block.NFE())
	assert.Equal(t, block.NFE(), block.LastStats().NFE)
	assert.Len(t, block.Parameters(), 10)
	assert.Contains(t, block.String(), "dopri5")

	block.ResetNFE()
	assert.Zero(t, block.NFE())
}

func TestODEBlock_AdjointNeedsAutodiffBackend(t *testing.T) {
	b := cpu.New()
	block := NewODEBlock[*cpu.CPUBackend](NewODEFunc(2, b), DefaultOptions(), true)
	_, err := block.Integrate(tensor.Zeros[float32](tensor.Shape{1, 2, 3, 3}, b))
	assert.True(t, errors.Is(err, ErrAdjointBackend), "got %v", err)
	assert.Panics(t, func() { block.Forward(tensor.Zeros[float32](tensor.Shape{1, 2, 3, 3}, b)) })
}

// linearFunc is dy/dt = w * y with a scalar parameter w.
type linearFunc struct {
	w   *nn.Parameter[adBackend]
	nfe int
}

func (l *linearFunc) Eval(_ float32, y State[adBackend]) State[adBackend] {
	l.nfe++
	return State[adBackend]{y[0].Mul(l.w.Tensor())}
}

func (l *linearFunc) Parameters() []*nn.Parameter[adBackend] { return []*nn.Parameter[adBackend]{l.w} }
func (l *linearFunc) NFE() int                                { return l.nfe }
func (l *linearFunc) ResetNFE()                               { l.nfe = 0 }

func TestODEBlock_LinearGradients(t *testing.T) {
	for _, adjoint := range []bool{false, true} {
		b := autodiff.New(cpu.New())
		w := tensor.Full[float32](tensor.Shape{1}, 0.5, b)
		fn := &linearFunc{w: nn.NewParameter("w", w)}
		block := NewODEBlock[adBackend](fn, DefaultOptions().WithTolerance(1e-6), adjoint)

		x, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3}, b)
		require.NoError(t, err)

		b.Tape().StartRecording()
		out := block.Forward(x)
		nfeForward := block.NFE()
		block.ResetNFE()
		grads := autodiff.Backward(out.Sum(), b)
		nfeBackward := block.NFE()

		e := math.Exp(0.5)
		for i, v := range out.Data() {
			assert.InDelta(t, float64(i+1)*e, float64(v), 1e-3)
		}
		gx := grads[x.Raw()]
		require.NotNil(t, gx, "adjoint=%v", adjoint)
		for _, g := range gx.AsFloat32() {
			assert.InDelta(t, e, float64(g), 1e-3, "adjoint=%v", adjoint)
		}
		gw := grads[w.Raw()]
		require.NotNil(t, gw, "adjoint=%v", adjoint)
		assert.InDelta(t, 6*e, float64(gw.AsFloat32()[0]), 6e-3, "adjoint=%v", adjoint)

		assert.Positive(t, nfeForward)
		if adjoint {
			assert.Positive(t, nfeBackward)
			// Only the adjoint op itself is recorded.
			assert.Equal(t, 2, b.Tape().NumOps(), "adjoint op plus the final sum")
		} else {
			assert.Zero(t, nfeBackward)
		}
	}
}

// odeFuncGradients returns the gradients of sum(block(x) * weights) with
// respect to x and every ODEFunc parameter, in that order.
func odeFuncGradients(t *testing.T, opts Options, adjoint bool) [][]float32 {
	t.Helper()
	nn.Seed(7)
	b := autodiff.New(cpu.New())
	fn := NewODEFunc(2, b)
	block := NewODEBlock[adBackend](fn, opts, adjoint)
	rng := rand.New(rand.NewSource(3))
	x := tensor.Randn[float32](tensor.Shape{1, 2, 3, 3}, rng, b)
	weights := tensor.Randn[float32](tensor.Shape{1, 2, 3, 3}, rng, b)

	b.Tape().StartRecording()
	loss := block.Forward(x).Mul(weights).Sum()
	grads := autodiff.Backward(loss, b)

	keys := []*tensor.RawTensor{x.Raw()}
	for _, p := range fn.Parameters() {
		keys = append(keys, p.Tensor().Raw())
	}
	out := make([][]float32, len(keys))
	for k, key := range keys {
		g := grads[key]
		require.NotNil(t, g, "gradient %d (adjoint=%v)", k, adjoint)
		out[k] = g.AsFloat32()
	}
	return out
}

func assertGradientsClose(t *testing.T, want, got [][]float32, rel float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for k := range want {
		require.Len(t, got[k], len(want[k]), "tensor %d", k)
		for i, w := range want[k] {
			assert.InDelta(t, float64(w), float64(got[k][i]), rel*math.Max(1, math.Abs(float64(w))),
				"tensor %d element %d", k, i)
		}
	}
}

func TestODEBlock_AdjointMatchesDirect(t *testing.T) {
	opts := Options{Method: RK4, StepSize: 0.01}
	direct := odeFuncGradients(t, opts, false)
	adjoint := odeFuncGradients(t, opts, true)
	assertGradientsClose(t, direct, adjoint, 1e-3)
}

func TestODEBlock_AdjointDopri5MatchesFineGrid(t *testing.T) {
	reference := odeFuncGradients(t, Options{Method: RK4, StepSize: 0.002}, false)
	adjoint := odeFuncGradients(t, DefaultOptions().WithTolerance(1e-6), true)
	assertGradientsClose(t, reference, adjoint, 5e-2)
}

func TestCatch(t *testing.T) {
	err := Catch(func() { panic(fmt.Errorf("odeblock: %w", ErrMaxSteps)) })
	assert.True(t, errors.Is(err, ErrMaxSteps))
	assert.NoError(t, Catch(func() {}))
	assert.Panics(t, func() { _ = Catch(func() { panic("boom") }) })
}
