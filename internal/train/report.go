package train

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Report summarizes a finished run.
type Report struct {
	RunID        string
	Epochs       int
	Iterations   int
	BestEpoch    int
	BestTestAcc  float64
	BatchMean    float64
	BatchMedian  float64
	BatchP95     float64
	FinalNFEF    float64
	FinalNFEB    float64
	FinalTestAcc float64
}

// Summary reports the best epoch and batch-time statistics of h.
func Summary(h *History) (Report, error) {
	if h == nil {
		return Report{}, fmt.Errorf("summary: nil history")
	}
	rep := Report{
		RunID:      h.RunID,
		Epochs:     len(h.Records),
		Iterations: len(h.BatchTimes),
	}
	if best, ok := h.Best(); ok {
		rep.BestEpoch = best.Epoch
		rep.BestTestAcc = best.TestAcc
		last := h.Records[len(h.Records)-1]
		rep.FinalNFEF = last.NFEForward
		rep.FinalNFEB = last.NFEBackward
		rep.FinalTestAcc = last.TestAcc
	}
	if len(h.BatchTimes) == 0 {
		return rep, nil
	}

	data := stats.Float64Data(h.BatchTimes)
	var err error
	if rep.BatchMean, err = stats.Mean(data); err != nil {
		return rep, fmt.Errorf("summary: %w", err)
	}
	if rep.BatchMedian, err = stats.Median(data); err != nil {
		return rep, fmt.Errorf("summary: %w", err)
	}
	if rep.BatchP95, err = stats.Percentile(data, 95); err != nil {
		return rep, fmt.Errorf("summary: %w", err)
	}
	return rep, nil
}
