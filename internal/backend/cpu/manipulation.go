package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Reshape returns a view of t with newShape. A single -1 dimension is inferred.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	shape := newShape.Clone()
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic("reshape: only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known <= 0 || t.NumElements()%known != 0 {
			panic(fmt.Sprintf("reshape: cannot infer dimension of %v for %d elements", newShape, t.NumElements()))
		}
		shape[infer] = t.NumElements() / known
	}

	view, err := t.View(shape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Transpose permutes dimensions according to axes.
// With no axes the dimension order is reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	rank := len(shape)
	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: %d axes for rank %d", len(axes), rank))
	}

	seen := make([]bool, rank)
	outShape := make(tensor.Shape, rank)
	inStrides := t.Strides()
	permStrides := make([]int, rank)
	for i, ax := range axes {
		ax = normalizeDim("transpose", ax, rank)
		if seen[ax] {
			panic(fmt.Sprintf("transpose: repeated axis %d", ax))
		}
		seen[ax] = true
		outShape[i] = shape[ax]
		permStrides[i] = inStrides[ax]
	}

	result := cpu.newResult("transpose", outShape, t.DType())
	es := t.DType().Size()
	src, dst := t.Data(), result.Data()

	idx := make([]int, rank)
	in := 0
	for o := 0; o < result.NumElements(); o++ {
		copy(dst[o*es:(o+1)*es], src[in*es:(in+1)*es])
		for d := rank - 1; d >= 0; d-- {
			idx[d]++
			in += permStrides[d]
			if idx[d] < outShape[d] {
				break
			}
			in -= permStrides[d] * outShape[d]
			idx[d] = 0
		}
	}
	return result
}

// Cat concatenates tensors along dim. All other dimensions must match.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	dim = normalizeDim("cat", dim, len(first))

	outShape := first.Clone()
	outShape[dim] = 0
	for i, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) || t.DType() != tensors[0].DType() {
			panic(fmt.Sprintf("cat: tensor %d has shape %v %s, expected rank %d %s",
				i, s, t.DType(), len(first), tensors[0].DType()))
		}
		for d := range s {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: tensor %d shape %v incompatible with %v on dim %d", i, s, first, dim))
			}
		}
		outShape[dim] += s[dim]
	}

	result := cpu.newResult("cat", outShape, tensors[0].DType())
	outer, _, inner := splitAt(outShape, dim)
	es := result.DType().Size()
	dst := result.Data()

	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			n := t.Shape()[dim] * inner * es
			copy(dst[pos:pos+n], t.Data()[o*n:(o+1)*n])
			pos += n
		}
	}
	return result
}
