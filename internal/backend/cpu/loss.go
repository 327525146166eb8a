package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/neuralode/internal/tensor"
)

// CrossEntropy computes mean(-log_softmax(logits)[targets]) over the batch.
//
// logits: [N, C] float32, targets: [N] int32 class indices. Returns a scalar.
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	n, c := checkCrossEntropy(logits, targets)

	x := logits.AsFloat32()
	y := targets.AsInt32()
	var total float64
	for b := 0; b < n; b++ {
		row := x[b*c : (b+1)*c]
		total -= float64(row[y[b]]) - LogSumExp(row)
	}

	result := cpu.newResult("cross_entropy", tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(total / float64(n))
	return result
}

// LogSumExp returns log(sum(exp(row))) using the max-shift trick.
func LogSumExp(row []float32) float64 {
	m := float64(row[0])
	for _, v := range row[1:] {
		m = math.Max(m, float64(v))
	}
	var s float64
	for _, v := range row {
		s += math.Exp(float64(v) - m)
	}
	return m + math.Log(s)
}

func checkCrossEntropy(logits, targets *tensor.RawTensor) (n, c int) {
	ls := logits.Shape()
	if len(ls) != 2 || logits.DType() != tensor.Float32 {
		panic(fmt.Sprintf("cross_entropy: logits must be 2D float32, got %v %s", ls, logits.DType()))
	}
	if targets.DType() != tensor.Int32 || targets.NumElements() != ls[0] {
		panic(fmt.Sprintf("cross_entropy: targets must be [%d] int32, got %v %s", ls[0], targets.Shape(), targets.DType()))
	}
	n, c = ls[0], ls[1]
	for i, y := range targets.AsInt32() {
		if y < 0 || int(y) >= c {
			panic(fmt.Sprintf("cross_entropy: target %d at %d out of range [0, %d)", y, i, c))
		}
	}
	return n, c
}
