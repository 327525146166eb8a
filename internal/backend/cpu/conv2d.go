package cpu

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/parallel"
	"github.com/born-ml/neuralode/internal/tensor"
)

// convGeometry holds the dimensions of one Conv2D call.
type convGeometry struct {
	N, CIn, H, W       int
	COut, KH, KW       int
	HOut, WOut         int
	stride, padding    int
	colRows, colCols   int // im2col matrix: [CIn*KH*KW, HOut*WOut]
	inPlane, outPlanes int // elements per sample in input and output
}

func newConvGeometry(op string, input, kernel *tensor.RawTensor, stride, padding int) convGeometry {
	is, ks := input.Shape(), kernel.Shape()
	if len(is) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(is)))
	}
	if len(ks) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", op, len(ks)))
	}
	if is[1] != ks[1] {
		panic(fmt.Sprintf("%s: input channels %d != kernel channels %d", op, is[1], ks[1]))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("%s: invalid stride %d or padding %d", op, stride, padding))
	}
	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s", op, input.DType()))
	}

	g := convGeometry{
		N: is[0], CIn: is[1], H: is[2], W: is[3],
		COut: ks[0], KH: ks[2], KW: ks[3],
		stride: stride, padding: padding,
	}
	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.HOut, g.WOut))
	}
	g.colRows = g.CIn * g.KH * g.KW
	g.colCols = g.HOut * g.WOut
	g.inPlane = g.CIn * g.H * g.W
	g.outPlanes = g.COut * g.colCols
	return g
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape:  [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// For each sample the input patches are unfolded into a [C_in*K_h*K_w, H_out*W_out]
// matrix and the convolution becomes kernel[C_out, C_in*K_h*K_w] @ col.
// Samples are processed in parallel.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input, kernel, stride, padding)
	output := cpu.newResult("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, tensor.Float32)

	in, k, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	parallel.For(g.N, func(n int) {
		col := make([]float32, g.colRows*g.colCols)
		im2col(col, in[n*g.inPlane:(n+1)*g.inPlane], g)
		dst := out[n*g.outPlanes : (n+1)*g.outPlanes]
		for co := 0; co < g.COut; co++ {
			row := dst[co*g.colCols : (co+1)*g.colCols]
			for r := 0; r < g.colRows; r++ {
				w := k[co*g.colRows+r]
				if w == 0 {
					continue
				}
				src := col[r*g.colCols : (r+1)*g.colCols]
				for j, v := range src {
					row[j] += w * v
				}
			}
		}
	}, cpu.parallel)

	return output
}

// Conv2DInputBackward computes dL/dinput given dL/doutput.
//
// dcol[C_in*K_h*K_w, H_out*W_out] = kernel^T @ grad[n], then col2im scatters
// dcol back onto the padded input grid.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_input_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_input_backward", grad, g)
	dInput := cpu.newResult("conv2d_input_backward", input.Shape(), tensor.Float32)

	k, dOut, dIn := kernel.AsFloat32(), grad.AsFloat32(), dInput.AsFloat32()
	parallel.For(g.N, func(n int) {
		dcol := make([]float32, g.colRows*g.colCols)
		gOut := dOut[n*g.outPlanes : (n+1)*g.outPlanes]
		for co := 0; co < g.COut; co++ {
			gRow := gOut[co*g.colCols : (co+1)*g.colCols]
			for r := 0; r < g.colRows; r++ {
				w := k[co*g.colRows+r]
				if w == 0 {
					continue
				}
				dst := dcol[r*g.colCols : (r+1)*g.colCols]
				for j, v := range gRow {
					dst[j] += w * v
				}
			}
		}
		col2im(dIn[n*g.inPlane:(n+1)*g.inPlane], dcol, g)
	}, cpu.parallel)

	return dInput
}

// Conv2DKernelBackward computes dL/dkernel given dL/doutput.
//
// dkernel[C_out, C_in*K_h*K_w] = sum_n grad[n] @ col[n]^T. The im2col
// matrices are built once and output channels are processed in parallel.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_kernel_backward", input, kernel, stride, padding)
	checkConvGrad("conv2d_kernel_backward", grad, g)
	dKernel := cpu.newResult("conv2d_kernel_backward", kernel.Shape(), tensor.Float32)

	in, dOut, dK := input.AsFloat32(), grad.AsFloat32(), dKernel.AsFloat32()
	cols := make([][]float32, g.N)
	parallel.For(g.N, func(n int) {
		cols[n] = make([]float32, g.colRows*g.colCols)
		im2col(cols[n], in[n*g.inPlane:(n+1)*g.inPlane], g)
	}, cpu.parallel)

	parallel.For(g.COut, func(co int) {
		dRow := dK[co*g.colRows : (co+1)*g.colRows]
		for n := 0; n < g.N; n++ {
			gRow := dOut[n*g.outPlanes+co*g.colCols : n*g.outPlanes+(co+1)*g.colCols]
			col := cols[n]
			for r := 0; r < g.colRows; r++ {
				src := col[r*g.colCols : (r+1)*g.colCols]
				var acc float32
				for j, v := range src {
					acc += v * gRow[j]
				}
				dRow[r] += acc
			}
		}
	}, cpu.parallel)

	return dKernel
}

func checkConvGrad(op string, grad *tensor.RawTensor, g convGeometry) {
	want := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: grad shape %v, expected %v", op, grad.Shape(), want))
	}
}

// im2col unfolds one sample [C_in, H, W] into col [C_in*K_h*K_w, H_out*W_out].
// Out-of-bounds (padding) positions stay zero.
func im2col(col, img []float32, g convGeometry) {
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				r := (c*g.KH+kh)*g.KW + kw
				dst := col[r*g.colCols : (r+1)*g.colCols]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						continue
					}
					src := img[(c*g.H+ih)*g.W:]
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw < 0 || iw >= g.W {
							continue
						}
						dst[oh*g.WOut+ow] = src[iw]
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates col entries into img.
func col2im(img, col []float32, g convGeometry) {
	for c := 0; c < g.CIn; c++ {
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				r := (c*g.KH+kh)*g.KW + kw
				src := col[r*g.colCols : (r+1)*g.colCols]
				for oh := 0; oh < g.HOut; oh++ {
					ih := oh*g.stride - g.padding + kh
					if ih < 0 || ih >= g.H {
						continue
					}
					dst := img[(c*g.H+ih)*g.W:]
					for ow := 0; ow < g.WOut; ow++ {
						iw := ow*g.stride - g.padding + kw
						if iw < 0 || iw >= g.W {
							continue
						}
						dst[iw] += src[oh*g.WOut+ow]
					}
				}
			}
		}
	}
}
