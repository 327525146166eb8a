package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// CrossEntropyLoss computes the mean cross-entropy between raw logits and
// integer class labels using the log-sum-exp trick:
//
//	Loss = mean_b(-log_softmax(logits[b])[targets[b]])
type CrossEntropyLoss[B tensor.Backend] struct {
	backend B
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{backend: backend}
}

// Forward computes the scalar loss for logits [N, C] and targets [N].
func (c *CrossEntropyLoss[B]) Forward(
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int32, B],
) *tensor.Tensor[float32, B] {
	if len(logits.Shape()) != 2 {
		panic(fmt.Sprintf("CrossEntropyLoss: logits must be 2D [batch_size, num_classes], got %v", logits.Shape()))
	}
	return tensor.New[float32, B](c.backend.CrossEntropy(logits.Raw(), targets.Raw()), c.backend)
}
