package nn

import (
	"math"
	"math/rand"
	"sync"

	"github.com/born-ml/neuralode/internal/tensor"
)

var (
	initMu  sync.Mutex
	initRNG = rand.New(rand.NewSource(0)) //nolint:gosec // weight init is not security-critical
)

// Seed resets the generator used for weight initialization.
func Seed(seed int64) {
	initMu.Lock()
	defer initMu.Unlock()
	initRNG = rand.New(rand.NewSource(seed)) //nolint:gosec // weight init is not security-critical
}

// Uniform fills a new tensor with values drawn from U(-bound, bound).
func Uniform[B tensor.Backend](bound float64, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	initMu.Lock()
	defer initMu.Unlock()
	return tensor.Rand[float32](shape, -bound, bound, initRNG, backend)
}

// KaimingUniform initializes weights with bound 1/sqrt(fan_in), the default
// scheme for convolution and linear layers (Kaiming uniform with a = sqrt(5)).
func KaimingUniform[B tensor.Backend](fanIn int, shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return Uniform(1/math.Sqrt(float64(fanIn)), shape, backend)
}

// Zeros creates a float32 tensor filled with zeros.
func Zeros[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](shape, backend)
}

// Ones creates a float32 tensor filled with ones.
func Ones[B tensor.Backend](shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	return tensor.Ones[float32](shape, backend)
}
