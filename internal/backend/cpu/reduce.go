package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// Sum reduces all elements to a scalar (shape []).
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := cpu.newResult("sum", tensor.Shape{}, x.DType())
	switch x.DType() {
	case tensor.Float32:
		var acc float64
		for _, v := range x.AsFloat32() {
			acc += float64(v)
		}
		result.AsFloat32()[0] = float32(acc)
	case tensor.Float64:
		var acc float64
		for _, v := range x.AsFloat64() {
			acc += v
		}
		result.AsFloat64()[0] = acc
	default:
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}
	return result
}

// SumDim sums along dim. keepDim retains the reduced dimension with size 1.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sumdim", x, dim, keepDim, false)
}

// MeanDim averages along dim. keepDim retains the reduced dimension with size 1.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("meandim", x, dim, keepDim, true)
}

func (cpu *CPUBackend) reduceDim(op string, x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	shape := x.Shape()
	dim = normalizeDim(op, dim, len(shape))
	outer, size, inner := splitAt(shape, dim)

	result := cpu.newResult(op, reducedShape(shape, dim, keepDim), x.DType())
	switch x.DType() {
	case tensor.Float32:
		reduceKernel(result.AsFloat32(), x.AsFloat32(), outer, size, inner, mean)
	case tensor.Float64:
		reduceKernel(result.AsFloat64(), x.AsFloat64(), outer, size, inner, mean)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", op, x.DType()))
	}
	return result
}

func reduceKernel[T float](dst, src []T, outer, size, inner int, mean bool) {
	for o := 0; o < outer; o++ {
		base := o * size * inner
		for i := 0; i < inner; i++ {
			var acc float64
			for k := 0; k < size; k++ {
				acc += float64(src[base+k*inner+i])
			}
			if mean {
				acc /= float64(size)
			}
			dst[o*inner+i] = T(acc)
		}
	}
}

// Argmax returns int32 indices of the maximum along dim, with dim removed.
// Ties resolve to the lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	dim = normalizeDim("argmax", dim, len(shape))
	outer, size, inner := splitAt(shape, dim)

	result := cpu.newResult("argmax", reducedShape(shape, dim, false), tensor.Int32)
	switch x.DType() {
	case tensor.Float32:
		argmaxKernel(result.AsInt32(), x.AsFloat32(), outer, size, inner)
	case tensor.Float64:
		argmaxKernel(result.AsInt32(), x.AsFloat64(), outer, size, inner)
	default:
		panic(fmt.Sprintf("argmax: unsupported dtype %s", x.DType()))
	}
	return result
}

func argmaxKernel[T float](dst []int32, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		base := o * size * inner
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := src[base+i]
			for k := 1; k < size; k++ {
				if v := src[base+k*inner+i]; v > bestVal {
					best, bestVal = k, v
				}
			}
			dst[o*inner+i] = int32(best)
		}
	}
}

// splitAt returns the products of dims before dim, dim itself and dims after.
func splitAt(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}
