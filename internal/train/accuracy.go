package train

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/neuralode/internal/autodiff"
	"github.com/born-ml/neuralode/internal/mnist"
	"github.com/born-ml/neuralode/internal/tensor"
)

// Classifier produces logits [N, classes] for images, returning solver
// failures as errors.
type Classifier[B tensor.Backend] interface {
	Logits(x *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error)
}

// OneHot encodes labels as rows of k indicators.
func OneHot(labels []int32, k int) [][]float64 {
	out := make([][]float64, len(labels))
	for i, l := range labels {
		out[i] = make([]float64, k)
		if l >= 0 && int(l) < k {
			out[i][l] = 1
		}
	}
	return out
}

// Accuracy is the fraction of samples in one pass of loader whose largest
// logit is the labelled class. Gradients are not recorded.
func Accuracy[B tensor.Backend](net Classifier[B], loader *mnist.Loader[B], logger *zap.SugaredLogger) (float64, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	correct, total := 0, 0
	for batch := range loader.Epoch() {
		var (
			logits *tensor.Tensor[float32, B]
			err    error
		)
		autodiff.NoGrad(batch.Images.Backend(), func() {
			logits, err = net.Logits(batch.Images)
		})
		if err != nil {
			return 0, fmt.Errorf("evaluate: %w", err)
		}

		classes := logits.Shape()[1]
		data := logits.Data()
		targets := OneHot(batch.Labels.Data(), classes)
		row := make([]float64, classes)
		for i := range batch.Size {
			for c := range row {
				row[c] = float64(data[i*classes+c])
			}
			if floats.MaxIdx(row) == floats.MaxIdx(targets[i]) {
				correct++
			}
		}
		total += batch.Size
		logger.Debugw("accuracy", "correct", correct, "seen", total)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}
