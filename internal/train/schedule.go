// Package train runs supervised training of the MNIST classifier: learning
// rate schedule, running meters, accuracy evaluation, the training loop,
// checkpoints and run reports.
package train

import "fmt"

// LearningRateDecay returns a piecewise-constant schedule indexed by
// iteration. The base rate lr*batchSize/batchDenom is multiplied by
// decayRates[i] for iterations before the i-th boundary (boundaryEpochs[i]
// epochs of batchesPerEpoch iterations) and by the last rate afterwards.
func LearningRateDecay(
	lr float64,
	batchSize, batchDenom, batchesPerEpoch int,
	boundaryEpochs []int,
	decayRates []float64,
) (func(itr int) float64, error) {
	if len(decayRates) != len(boundaryEpochs)+1 {
		return nil, fmt.Errorf("train: %d decay rates for %d boundaries, want %d",
			len(decayRates), len(boundaryEpochs), len(boundaryEpochs)+1)
	}
	if batchDenom <= 0 {
		return nil, fmt.Errorf("train: batch denominator must be positive, got %d", batchDenom)
	}
	initial := lr * float64(batchSize) / float64(batchDenom)

	boundaries := make([]int, len(boundaryEpochs))
	for i, e := range boundaryEpochs {
		boundaries[i] = batchesPerEpoch * e
	}
	vals := make([]float64, len(decayRates))
	for i, r := range decayRates {
		vals[i] = initial * r
	}

	return func(itr int) float64 {
		for i, b := range boundaries {
			if itr < b {
				return vals[i]
			}
		}
		return vals[len(vals)-1]
	}, nil
}
