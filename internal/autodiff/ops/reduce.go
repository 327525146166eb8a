package ops

import "github.com/born-ml/neuralode/internal/tensor"

// SumOp records the full reduction y = sum(x).
type SumOp struct{ unaryOp }

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{unaryOp{input: input, output: output}}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	ones := make(tensor.Shape, len(op.input.Shape()))
	for i := range ones {
		ones[i] = 1
	}
	return []*tensor.RawTensor{expandTo(backend.Reshape(outputGrad, ones), op.input.Shape(), backend)}
}

// SumDimOp records y = sum(x, dim).
type SumDimOp struct {
	unaryOp
	dim     int
	keepDim bool
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *SumDimOp {
	return &SumDimOp{unaryOp{input: input, output: output}, dim, keepDim}
}

// Backward broadcasts the gradient back along dim.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	grad := keepDimShape(outputGrad, op.input.Shape(), op.dim, backend)
	return []*tensor.RawTensor{expandTo(grad, op.input.Shape(), backend)}
}

// MeanDimOp records y = mean(x, dim).
type MeanDimOp struct {
	unaryOp
	dim     int
	keepDim bool
}

// NewMeanDimOp creates a new MeanDimOp.
func NewMeanDimOp(input, output *tensor.RawTensor, dim int, keepDim bool) *MeanDimOp {
	return &MeanDimOp{unaryOp{input: input, output: output}, dim, keepDim}
}

// Backward broadcasts grad / size back along dim.
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := op.input.Shape()
	dim := normalizeDim(op.dim, len(shape))
	grad := keepDimShape(outputGrad, shape, dim, backend)
	grad = backend.MulScalar(grad, 1/float64(shape[dim]))
	return []*tensor.RawTensor{expandTo(grad, shape, backend)}
}
