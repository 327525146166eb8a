package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/optim"
	"github.com/born-ml/neuralode/internal/tensor"
)

func floatEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func newParam(t *testing.T, values ...float32) *nn.Parameter[*cpu.CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{len(values)}, cpu.New())
	require.NoError(t, err)
	return nn.NewParameter("w", x)
}

func gradFor(p *nn.Parameter[*cpu.CPUBackend], values ...float32) map[*tensor.RawTensor]*tensor.RawTensor {
	g := tensor.MustNewRaw(tensor.Shape{len(values)}, tensor.Float32, tensor.CPU)
	copy(g.AsFloat32(), values)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor().Raw(): g}
}

func TestSGD_SimpleUpdate(t *testing.T) {
	p := newParam(t, 1, 2)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 0.1})
	opt.Step(gradFor(p, 1, -2))

	got := p.Tensor().Data()
	if !floatEqual(got[0], 0.9) || !floatEqual(got[1], 2.2) {
		t.Errorf("after step: got %v, want [0.9 2.2]", got)
	}
}

func TestSGD_Momentum(t *testing.T) {
	p := newParam(t, 0)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 1, Momentum: 0.5})
	opt.Step(gradFor(p, 1)) // v=1, p=-1
	opt.Step(gradFor(p, 1)) // v=1.5, p=-2.5

	if got := p.Tensor().Data()[0]; !floatEqual(got, -2.5) {
		t.Errorf("after two momentum steps: got %v, want -2.5", got)
	}
}

func TestSGD_WeightDecay(t *testing.T) {
	p := newParam(t, 2)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 0.5, WeightDecay: 0.1})
	opt.Step(gradFor(p, 0))
	if got := p.Tensor().Data()[0]; !floatEqual(got, 1.9) {
		t.Errorf("weight decay step: got %v, want 1.9", got)
	}
}

func TestSGD_SkipsMissingGradients(t *testing.T) {
	p := newParam(t, 3)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 0.1})
	opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{})
	if got := p.Tensor().Data()[0]; got != 3 {
		t.Errorf("parameter changed without gradient: %v", got)
	}
}

func TestSGD_SetLR(t *testing.T) {
	opt := optim.NewSGD[*cpu.CPUBackend](nil, optim.SGDConfig{})
	if !floatEqual(opt.GetLR(), 0.01) {
		t.Errorf("default LR = %v, want 0.01", opt.GetLR())
	}
	opt.SetLR(0.001)
	if !floatEqual(opt.GetLR(), 0.001) {
		t.Errorf("LR after SetLR = %v", opt.GetLR())
	}
}

func TestSGD_StateDictRoundTrip(t *testing.T) {
	p := newParam(t, 0, 0)
	opt := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{p}, optim.SGDConfig{LR: 1, Momentum: 0.9})
	opt.Step(gradFor(p, 1, 2))

	state := opt.StateDict()
	require.Contains(t, state, "velocity.0")

	q := newParam(t, 0, 0)
	restored := optim.NewSGD([]*nn.Parameter[*cpu.CPUBackend]{q}, optim.SGDConfig{LR: 1, Momentum: 0.9})
	require.NoError(t, restored.LoadStateDict(state))
	restored.Step(gradFor(q, 0, 0))
	// v = 0.9 * [1 2]
	got := q.Tensor().Data()
	if !floatEqual(got[0], -0.9) || !floatEqual(got[1], -1.8) {
		t.Errorf("restored velocity not applied: %v", got)
	}

	bad := map[string]*tensor.RawTensor{"velocity.0": tensor.MustNewRaw(tensor.Shape{3}, tensor.Float32, tensor.CPU)}
	require.Error(t, restored.LoadStateDict(bad))
}

// Minimizes (w - 3)^2 end to end through the tape.
func TestSGD_ConvergesWithAutodiff(t *testing.T) {
	b := autodiff.New(cpu.New())
	w := tensor.Zeros[float32](tensor.Shape{1}, b)
	p := nn.NewParameter("w", w)
	opt := optim.NewSGD([]*nn.Parameter[*autodiff.AutodiffBackend[*cpu.CPUBackend]]{p}, optim.SGDConfig{LR: 0.1})

	for i := 0; i < 100; i++ {
		b.Tape().Clear()
		b.Tape().StartRecording()
		d := w.AddScalar(-3)
		grads := autodiff.Backward(d.Mul(d).Sum(), b)
		b.Tape().StopRecording()
		opt.Step(grads)
	}
	if got := w.Data()[0]; !floatEqual(got, 3) {
		t.Errorf("w = %v, want 3", got)
	}
}
