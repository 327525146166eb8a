package nn

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/tensor"
)

type ad = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func TestConv2D_ForwardShapeAndBias(t *testing.T) {
	b := cpu.New()
	conv := NewConv2D(1, 4, 3, 3, 1, 0, true, b)
	x := tensor.Zeros[float32](tensor.Shape{2, 1, 28, 28}, b)
	out := conv.Forward(x)
	assert.Equal(t, tensor.Shape{2, 4, 26, 26}, out.Shape())

	// Zero input: every output equals the channel bias.
	bias := conv.Parameters()[1].Tensor().Data()
	for c := 0; c < 4; c++ {
		assert.Equal(t, bias[c], out.At(1, c, 13, 13))
	}

	h, w := conv.OutputSize(28, 28)
	assert.Equal(t, 26, h)
	assert.Equal(t, 26, w)
	assert.Len(t, Conv3x3(4, 4, 1, b).Parameters(), 1)
}

func TestConv2D_InitBound(t *testing.T) {
	b := cpu.New()
	Seed(3)
	conv := NewConv2D(64, 64, 3, 3, 1, 1, false, b)
	bound := float32(1 / math.Sqrt(64*9))
	for _, v := range conv.Weight().Tensor().Data() {
		require.LessOrEqual(t, v, bound)
		require.GreaterOrEqual(t, v, -bound)
	}
}

func TestLinear_Forward(t *testing.T) {
	b := cpu.New()
	l := NewLinear(2, 3, b)
	copy(l.Weight().Tensor().Data(), []float32{1, 0, 0, 1, 1, 1})
	copy(l.Bias().Tensor().Data(), []float32{0.5, 0, -1})

	x, err := tensor.FromSlice([]float32{2, 3}, tensor.Shape{1, 2}, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{2.5, 3, 4}, l.Forward(x).Data())
}

func TestGroupNorm_NormalizesEachGroup(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(1))
	gn := NewGroupNorm(2, 4, 1e-5, b)
	x := tensor.Randn[float32](tensor.Shape{3, 4, 5, 5}, rng, b).MulScalar(3).AddScalar(7)
	y := gn.Forward(x)
	require.Equal(t, x.Shape(), y.Shape())

	data := y.Data()
	groupSize := 2 * 25
	for g := 0; g < 3*2; g++ {
		var sum, sq float64
		for _, v := range data[g*groupSize : (g+1)*groupSize] {
			sum += float64(v)
			sq += float64(v) * float64(v)
		}
		mean := sum / float64(groupSize)
		assert.InDelta(t, 0, mean, 1e-4)
		assert.InDelta(t, 1, sq/float64(groupSize)-mean*mean, 1e-3)
	}
}

func TestNorm_GroupCount(t *testing.T) {
	b := cpu.New()
	assert.Equal(t, "GroupNorm(32, 64, eps=1e-05)", Norm(64, b).String())
	assert.Equal(t, "GroupNorm(16, 16, eps=1e-05)", Norm(16, b).String())
	assert.Panics(t, func() { NewGroupNorm(3, 64, 1e-5, b) })
}

func TestGroupNorm_Gradients(t *testing.T) {
	b := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(2))
	gn := NewGroupNorm[ad](2, 4, 1e-5, b)
	x := tensor.Randn[float32](tensor.Shape{2, 4, 3, 3}, rng, b)
	w := tensor.Randn[float32](tensor.Shape{2, 4, 3, 3}, rng, b)
	copy(gn.Parameters()[0].Tensor().Data(), []float32{1, 2, 0.5, -1})

	loss := func() *tensor.Tensor[float32, ad] { return gn.Forward(x).Mul(w).Sum() }

	b.Tape().StartRecording()
	grads := autodiff.Backward(loss(), b)
	b.Tape().StopRecording()

	inputs := []*tensor.Tensor[float32, ad]{x, gn.Parameters()[0].Tensor(), gn.Parameters()[1].Tensor()}
	const eps = 1e-2
	for n, in := range inputs {
		g := grads[in.Raw()]
		require.NotNil(t, g, "input %d", n)
		data := in.Data()
		for i := range data {
			orig := data[i]
			data[i] = orig + eps
			plus := float64(loss().Item())
			data[i] = orig - eps
			minus := float64(loss().Item())
			data[i] = orig
			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, float64(g.AsFloat32()[i]), 3e-2*math.Max(1, math.Abs(numeric)), "input %d elem %d", n, i)
		}
	}
}

func TestAdaptiveAvgPoolFlatten(t *testing.T) {
	b := cpu.New()
	x, err := tensor.FromSlice([]float32{1, 2, 3, 4, 10, 20, 30, 40}, tensor.Shape{1, 2, 2, 2}, b)
	require.NoError(t, err)
	pooled := NewAdaptiveAvgPool2D[*cpu.CPUBackend]().Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 1, 1}, pooled.Shape())
	flat := NewFlatten[*cpu.CPUBackend]().Forward(pooled)
	assert.Equal(t, tensor.Shape{1, 2}, flat.Shape())
	assert.Equal(t, []float32{2.5, 25}, flat.Data())
}

func TestSequential_ParametersAndCount(t *testing.T) {
	b := cpu.New()
	seq := NewSequential[*cpu.CPUBackend](
		NewConv2D(1, 2, 3, 3, 1, 0, true, b),
		Norm(2, b),
		NewReLU[*cpu.CPUBackend](),
	)
	seq.Add(NewFlatten[*cpu.CPUBackend]())
	assert.Equal(t, 4, seq.Len())
	assert.Len(t, seq.Parameters(), 4)
	assert.Equal(t, 2*9+2+2+2, CountParameters[*cpu.CPUBackend](seq))
	assert.Panics(t, func() { seq.Module(9) })
}

func TestCrossEntropyLoss(t *testing.T) {
	b := cpu.New()
	logits, err := tensor.FromSlice([]float32{0, 0, 0, 0}, tensor.Shape{2, 2}, b)
	require.NoError(t, err)
	targets, err := tensor.FromSlice([]int32{0, 1}, tensor.Shape{2}, b)
	require.NoError(t, err)
	loss := NewCrossEntropyLoss(b).Forward(logits, targets)
	assert.InDelta(t, math.Ln2, float64(loss.Item()), 1e-6)
}

type fakeOptimizer struct {
	state map[string]*tensor.RawTensor
	lr    float32
}

func (f *fakeOptimizer) StateDict() map[string]*tensor.RawTensor { return f.state }
func (f *fakeOptimizer) LoadStateDict(s map[string]*tensor.RawTensor) error {
	f.state = s
	return nil
}
func (f *fakeOptimizer) GetLR() float32 { return f.lr }

func TestCheckpoint_SaveLoad(t *testing.T) {
	b := cpu.New()
	build := func() *Sequential[*cpu.CPUBackend] {
		return NewSequential[*cpu.CPUBackend](NewLinear(3, 2, b), NewReLU[*cpu.CPUBackend](), NewLinear(2, 2, b))
	}
	Seed(1)
	src := build()
	Seed(2)
	dst := build()
	require.NotEqual(t, src.Parameters()[0].Tensor().Data(), dst.Parameters()[0].Tensor().Data())

	vel := tensor.MustNewRaw(tensor.Shape{2}, tensor.Float32, tensor.CPU)
	copy(vel.AsFloat32(), []float32{0.1, 0.2})
	path := filepath.Join(t.TempDir(), "model.safetensors")
	ckpt := &Checkpoint[*cpu.CPUBackend]{
		Model:     src,
		Optimizer: &fakeOptimizer{state: map[string]*tensor.RawTensor{"velocity.0": vel}, lr: 0.1},
		Epoch:     4,
		Step:      1868,
		Accuracy:  0.9871,
		Metadata:  map[string]string{"network": "odenet"},
	}
	require.NoError(t, ckpt.Save(path))

	opt := &fakeOptimizer{}
	loaded, err := LoadCheckpoint[*cpu.CPUBackend](path, dst, opt)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Epoch)
	assert.Equal(t, int64(1868), loaded.Step)
	assert.InDelta(t, 0.9871, loaded.Accuracy, 1e-12)
	assert.Equal(t, "odenet", loaded.Metadata["network"])
	assert.Equal(t, "0.1", loaded.Metadata[MetaLR])
	for i, p := range src.Parameters() {
		assert.Equal(t, p.Tensor().Data(), dst.Parameters()[i].Tensor().Data())
	}
	require.Contains(t, opt.state, "velocity.0")
	assert.Equal(t, []float32{0.1, 0.2}, opt.state["velocity.0"].AsFloat32())
}

func TestLoadStateDict_Errors(t *testing.T) {
	b := cpu.New()
	l := NewLinear(2, 2, b)
	dict := StateDict[*cpu.CPUBackend](l)
	require.NoError(t, LoadStateDict[*cpu.CPUBackend](l, dict))

	delete(dict, StateKey(1, "bias"))
	require.Error(t, LoadStateDict[*cpu.CPUBackend](l, dict))

	dict[StateKey(1, "bias")] = tensor.MustNewRaw(tensor.Shape{3}, tensor.Float32, tensor.CPU)
	require.Error(t, LoadStateDict[*cpu.CPUBackend](l, dict))
}

func TestCollectGrads(t *testing.T) {
	b := autodiff.New(cpu.New())
	l := NewLinear[ad](2, 1, b)
	x := tensor.Ones[float32](tensor.Shape{4, 2}, b)
	b.Tape().StartRecording()
	grads := autodiff.Backward(l.Forward(x).Sum(), b)

	got := CollectGrads(l.Parameters(), grads)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{4, 4}, l.Weight().Grad().Data())
	assert.Equal(t, []float32{4}, l.Bias().Grad().Data())
}
