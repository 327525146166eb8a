package autodiff

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/backend/cpu"
	"github.com/born-ml/neuralode/internal/tensor"
)

type adBackend = *AutodiffBackend[*cpu.CPUBackend]

func randTensor[T float32 | float64](rng *rand.Rand, shape tensor.Shape, b adBackend) *tensor.Tensor[T, adBackend] {
	return tensor.Randn[T](shape, rng, b)
}

// checkGradients compares tape gradients of loss() against central differences
// for every tensor in inputs.
func checkGradients[T float32 | float64](
	t *testing.T,
	b adBackend,
	inputs []*tensor.Tensor[T, adBackend],
	loss func() *tensor.Tensor[T, adBackend],
	eps, tol float64,
) {
	t.Helper()

	b.Tape().Clear()
	b.Tape().StartRecording()
	out := loss()
	grads := Backward(out, b)
	b.Tape().StopRecording()
	b.Tape().Clear()

	for n, in := range inputs {
		grad := grads[in.Raw()]
		require.NotNil(t, grad, "input %d has no gradient", n)
		data := in.Data()
		for i := range data {
			orig := data[i]
			data[i] = orig + T(eps)
			plus := float64(loss().Item())
			data[i] = orig - T(eps)
			minus := float64(loss().Item())
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			var analytic float64
			if in.DType() == tensor.Float32 {
				analytic = float64(grad.AsFloat32()[i])
			} else {
				analytic = grad.AsFloat64()[i]
			}
			assert.InDelta(t, numeric, analytic, tol*math.Max(1, math.Abs(numeric)),
				"input %d element %d", n, i)
		}
	}
}

func TestAutodiff_ScalarSquare(t *testing.T) {
	b := New(cpu.New())
	b.Tape().StartRecording()
	x, err := tensor.FromSlice([]float32{2}, tensor.Shape{1}, b)
	require.NoError(t, err)
	y := x.Mul(x)
	grads := Backward(y, b)
	assert.InDelta(t, 4.0, float64(grads[x.Raw()].AsFloat32()[0]), 1e-6)
}

func TestAutodiff_NotRecordingByDefault(t *testing.T) {
	b := New(cpu.New())
	x := tensor.Ones[float32](tensor.Shape{2}, b)
	_ = x.Add(x)
	assert.Equal(t, 0, b.Tape().NumOps())
	assert.Panics(t, func() { Backward(x, b) })
}

func TestAutodiff_NoGrad(t *testing.T) {
	b := New(cpu.New())
	b.Tape().StartRecording()
	x := tensor.Ones[float32](tensor.Shape{2}, b)
	NoGrad(b, func() { _ = x.Add(x) })
	assert.Equal(t, 0, b.Tape().NumOps())
	assert.True(t, b.Tape().IsRecording())
}

func TestAutodiff_ArithmeticBroadcast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := New(cpu.New())
	x := randTensor[float64](rng, tensor.Shape{2, 3}, b)
	y := randTensor[float64](rng, tensor.Shape{1, 3}, b)
	z := tensor.Full[float64](tensor.Shape{2, 1}, 1.5, b)

	checkGradients(t, b, []*tensor.Tensor[float64, adBackend]{x, y, z}, func() *tensor.Tensor[float64, adBackend] {
		return x.Mul(y).Sub(z).Div(y.Mul(y).AddScalar(1)).MulScalar(0.7).Sum()
	}, 1e-6, 1e-5)
}

func TestAutodiff_MatMulTranspose(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	b := New(cpu.New())
	x := randTensor[float64](rng, tensor.Shape{3, 4}, b)
	w := randTensor[float64](rng, tensor.Shape{2, 4}, b)

	checkGradients(t, b, []*tensor.Tensor[float64, adBackend]{x, w}, func() *tensor.Tensor[float64, adBackend] {
		h := x.MatMul(w.Transpose())
		return h.Mul(h).Sum()
	}, 1e-6, 1e-5)
}

func TestAutodiff_ReductionsAndMath(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	b := New(cpu.New())
	x := randTensor[float64](rng, tensor.Shape{2, 3, 4}, b)

	checkGradients(t, b, []*tensor.Tensor[float64, adBackend]{x}, func() *tensor.Tensor[float64, adBackend] {
		m := x.MeanDim(-1, true)
		c := x.Sub(m)
		v := c.Mul(c).MeanDim(-1, true).AddScalar(1e-2)
		n := c.Mul(v.Rsqrt())
		e := x.MulScalar(0.1).Exp().Add(x.Mul(x).AddScalar(1).Log()).Add(x.Mul(x).AddScalar(1).Sqrt())
		return n.Mul(e).SumDim(1, false).ReLU().Sum()
	}, 1e-6, 1e-4)
}

func TestAutodiff_ReshapeCat(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	b := New(cpu.New())
	x := randTensor[float64](rng, tensor.Shape{2, 1, 3}, b)
	y := randTensor[float64](rng, tensor.Shape{2, 2, 3}, b)
	w := randTensor[float64](rng, tensor.Shape{2, 9}, b)

	checkGradients(t, b, []*tensor.Tensor[float64, adBackend]{x, y}, func() *tensor.Tensor[float64, adBackend] {
		c := tensor.Cat([]*tensor.Tensor[float64, adBackend]{x, y}, 1)
		return c.Reshape(2, -1).Mul(w).Transpose(1, 0).Sum()
	}, 1e-6, 1e-5)
}

func TestAutodiff_Conv2D(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := New(cpu.New())
	x := randTensor[float32](rng, tensor.Shape{2, 2, 5, 5}, b)
	k := randTensor[float32](rng, tensor.Shape{3, 2, 3, 3}, b)
	w := randTensor[float32](rng, tensor.Shape{2, 3, 3, 3}, b)

	checkGradients(t, b, []*tensor.Tensor[float32, adBackend]{x, k}, func() *tensor.Tensor[float32, adBackend] {
		h := tensor.New[float32](b.Conv2D(x.Raw(), k.Raw(), 2, 1), b)
		return h.Mul(w).Sum()
	}, 1e-2, 2e-2)
}

func TestAutodiff_CrossEntropy(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	b := New(cpu.New())
	logits := randTensor[float32](rng, tensor.Shape{4, 5}, b)
	targets, err := tensor.FromSlice([]int32{0, 4, 2, 2}, tensor.Shape{4}, b)
	require.NoError(t, err)

	checkGradients(t, b, []*tensor.Tensor[float32, adBackend]{logits}, func() *tensor.Tensor[float32, adBackend] {
		return tensor.New[float32](b.CrossEntropy(logits.Raw(), targets.Raw()), b)
	}, 1e-2, 1e-2)
}

func TestGradientTape_BackwardFromSkipsUnrelatedOps(t *testing.T) {
	b := New(cpu.New())
	b.Tape().StartRecording()
	x := tensor.Full[float32](tensor.Shape{2}, 3, b)
	y := x.MulScalar(2)
	unrelated := x.Mul(x)

	seed := tensor.Full[float32](tensor.Shape{2}, 0.5, b)
	grads := b.Tape().BackwardFrom(map[*tensor.RawTensor]*tensor.RawTensor{y.Raw(): seed.Raw()}, b.Inner())
	assert.Equal(t, []float32{1, 1}, grads[x.Raw()].AsFloat32())
	_, ok := grads[unrelated.Raw()]
	assert.False(t, ok)
}

func TestAutodiff_SwapTape(t *testing.T) {
	b := New(cpu.New())
	outer := b.Tape()
	outer.StartRecording()

	local := NewGradientTape()
	local.StartRecording()
	prev := b.SwapTape(local)
	x := tensor.Ones[float32](tensor.Shape{2}, b)
	_ = x.Add(x)
	b.SwapTape(prev)

	assert.Same(t, outer, b.Tape())
	assert.Equal(t, 0, outer.NumOps())
	assert.Equal(t, 1, local.NumOps())
}

func TestWithTape_RestoresOnPanic(t *testing.T) {
	b := New(cpu.New())
	outer := b.Tape()
	local := NewGradientTape()
	local.StartRecording()

	assert.Panics(t, func() {
		WithTape(b, local, func() {
			x := tensor.Ones[float32](tensor.Shape{2}, b)
			_ = x.Add(x)
			panic("boom")
		})
	})
	assert.Same(t, outer, b.Tape())
	assert.Equal(t, 1, local.NumOps())
}
