package autodiff

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// BackwardCapable is an interface for backends that support the backward pass.
// AutodiffBackend implements this interface.
type BackwardCapable interface {
	tensor.Backend

	// GetTape returns the active gradient tape.
	GetTape() *GradientTape

	// SwapTape installs t as the active tape and returns the previous one.
	SwapTape(t *GradientTape) *GradientTape

	// Base returns the wrapped backend that performs the actual computation.
	Base() tensor.Backend
}

// GetTape returns the active gradient tape.
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// SwapTape installs t as the active tape and returns the previous one.
// Nested differentiation (such as vector-Jacobian products computed inside
// another operation's backward pass) records on its own tape this way.
func (b *AutodiffBackend[B]) SwapTape(t *GradientTape) *GradientTape {
	prev := b.tape
	b.tape = t
	return prev
}

// Base returns the wrapped backend.
func (b *AutodiffBackend[B]) Base() tensor.Backend {
	return b.inner
}

// Backward computes gradients of t with respect to every recorded input,
// seeding t with ones.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones[float32](tensor.Shape{2}, backend)
//	y := x.Mul(x)
//	gradients := autodiff.Backward(y, backend)
//	grad := gradients[x.Raw()]
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	outputGrad, err := tensor.NewRaw(t.Shape(), t.DType(), backend.Device())
	if err != nil {
		panic(fmt.Sprintf("backward: failed to create output gradient: %v", err))
	}
	switch t.DType() {
	case tensor.Float32:
		data := outputGrad.AsFloat32()
		for i := range data {
			data[i] = 1
		}
	case tensor.Float64:
		data := outputGrad.AsFloat64()
		for i := range data {
			data[i] = 1
		}
	default:
		panic(fmt.Sprintf("backward: unsupported dtype %s (only float32/float64 supported)", t.DType()))
	}

	seeds := map[*tensor.RawTensor]*tensor.RawTensor{t.Raw(): outputGrad}
	return tape.BackwardFrom(seeds, backend.Base())
}

// NoGrad runs fn with recording paused on the active tape.
func NoGrad(backend tensor.Backend, fn func()) {
	bc, ok := backend.(BackwardCapable)
	if !ok {
		fn()
		return
	}
	tape := bc.GetTape()
	was := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if was {
			tape.StartRecording()
		}
	}()
	fn()
}

// WithTape runs fn with t installed as the active tape of backend and
// restores the previous tape afterwards, even if fn panics.
func WithTape(backend BackwardCapable, t *GradientTape, fn func()) {
	prev := backend.SwapTape(t)
	defer backend.SwapTape(prev)
	fn()
}
