package ops

import (
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// CrossEntropyOp records loss = mean(-log_softmax(logits)[targets]).
//
// Backward:
//
//	dL/dlogits[b,i] = grad * (softmax(logits[b])[i] - onehot[b,i]) / batch_size
//
// Targets are integer labels and receive no gradient.
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewCrossEntropyOp creates a new cross-entropy operation.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{logits: logits, targets: targets, output: output}
}

// Inputs returns the input tensors.
func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits}
}

// Output returns the output tensor.
func (op *CrossEntropyOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the gradient with respect to logits.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	shape := op.logits.Shape()
	n, c := shape[0], shape[1]
	scale := float64(outputGrad.AsFloat32()[0]) / float64(n)

	grad := tensor.MustNewRaw(shape, tensor.Float32, op.logits.Device())
	x, y, g := op.logits.AsFloat32(), op.targets.AsInt32(), grad.AsFloat32()
	for b := 0; b < n; b++ {
		row := x[b*c : (b+1)*c]
		m := float64(row[0])
		for _, v := range row[1:] {
			m = math.Max(m, float64(v))
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v) - m)
		}
		for i, v := range row {
			p := math.Exp(float64(v)-m) / sum
			if i == int(y[b]) {
				p--
			}
			g[b*c+i] = float32(p * scale)
		}
	}
	return []*tensor.RawTensor{grad}
}
