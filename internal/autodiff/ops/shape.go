package ops

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// ReshapeOp records y = reshape(x).
type ReshapeOp struct{ unaryOp }

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{unaryOp{input: input, output: output}}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// TransposeOp records y = transpose(x, axes).
type TransposeOp struct {
	unaryOp
	axes []int
}

// NewTransposeOp creates a new TransposeOp. Empty axes means full reversal.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	rank := len(input.Shape())
	full := make([]int, rank)
	for i := range full {
		if len(axes) == 0 {
			full[i] = rank - 1 - i
		} else {
			full[i] = normalizeDim(axes[i], rank)
		}
	}
	return &TransposeOp{unaryOp{input: input, output: output}, full}
}

// Backward applies the inverse permutation.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, ax := range op.axes {
		inverse[ax] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}

// CatOp records y = cat(inputs, dim).
type CatOp struct {
	inputs []*tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewCatOp creates a new CatOp.
func NewCatOp(inputs []*tensor.RawTensor, output *tensor.RawTensor, dim int) *CatOp {
	return &CatOp{
		inputs: append([]*tensor.RawTensor(nil), inputs...),
		output: output,
		dim:    normalizeDim(dim, len(output.Shape())),
	}
}

// Inputs returns the input tensors.
func (op *CatOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor.
func (op *CatOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward splits the gradient back into one slice per input.
func (op *CatOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	shape := outputGrad.Shape()
	outer, inner := 1, 1
	for i := 0; i < op.dim; i++ {
		outer *= shape[i]
	}
	for i := op.dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	es := outputGrad.DType().Size()
	src := outputGrad.Data()
	rowBytes := shape[op.dim] * inner * es

	grads := make([]*tensor.RawTensor, len(op.inputs))
	offset := 0
	for i, in := range op.inputs {
		g := tensor.MustNewRaw(in.Shape(), outputGrad.DType(), outputGrad.Device())
		n := in.Shape()[op.dim] * inner * es
		dst := g.Data()
		for o := 0; o < outer; o++ {
			copy(dst[o*n:(o+1)*n], src[o*rowBytes+offset:o*rowBytes+offset+n])
		}
		offset += n
		grads[i] = g
	}
	return grads
}

func normalizeDim(dim, rank int) int {
	if dim < 0 {
		dim += rank
	}
	if dim < 0 || dim >= rank {
		panic(fmt.Sprintf("ops: dim %d out of range for rank %d", dim, rank))
	}
	return dim
}
