package nn

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/neuralode/internal/serialization"
	"github.com/born-ml/neuralode/internal/tensor"
)

const optimizerPrefix = "optimizer."

// Reserved checkpoint metadata keys.
const (
	MetaEpoch     = "epoch"
	MetaStep      = "step"
	MetaAccuracy  = "accuracy"
	MetaLR        = "lr"
	MetaCreatedAt = "created_at"
)

// OptimizerState represents an optimizer that can save/load its state.
//
// This interface is used by checkpoints to serialize optimizer state
// without creating import cycles.
type OptimizerState interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
	GetLR() float32
}

// Checkpoint represents a training state snapshot.
//
// Example:
//
//	ckpt := &nn.Checkpoint[B]{
//	    Model:     model,
//	    Optimizer: optimizer,
//	    Epoch:     10,
//	    Accuracy:  0.9912,
//	    Metadata:  map[string]string{"config": yamlText},
//	}
//	err := ckpt.Save("experiment1/model.safetensors")
type Checkpoint[B tensor.Backend] struct {
	Model     Module[B]
	Optimizer OptimizerState // optional
	Epoch     int
	Step      int64
	Accuracy  float64
	Metadata  map[string]string
	CreatedAt time.Time
}

// Save writes model parameters, optimizer state and metadata as safetensors.
func (c *Checkpoint[B]) Save(path string) error {
	tensors := StateDict(c.Model)
	meta := make(map[string]string, len(c.Metadata)+5)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	if c.Optimizer != nil {
		for name, raw := range c.Optimizer.StateDict() {
			tensors[optimizerPrefix+name] = raw
		}
		meta[MetaLR] = strconv.FormatFloat(float64(c.Optimizer.GetLR()), 'g', -1, 32)
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	meta[MetaEpoch] = strconv.Itoa(c.Epoch)
	meta[MetaStep] = strconv.FormatInt(c.Step, 10)
	meta[MetaAccuracy] = strconv.FormatFloat(c.Accuracy, 'f', -1, 64)
	meta[MetaCreatedAt] = created.UTC().Format(time.RFC3339)

	if err := serialization.WriteFile(path, tensors, meta); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpointMetadata returns only the metadata of a checkpoint file.
func ReadCheckpointMetadata(path string) (map[string]string, error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Metadata, nil
}

// LoadCheckpoint restores model (and optimizer, if non-nil) from path.
func LoadCheckpoint[B tensor.Backend](path string, model Module[B], optimizer OptimizerState) (*Checkpoint[B], error) {
	f, err := serialization.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	modelDict := make(map[string]*tensor.RawTensor, len(f.Tensors))
	optDict := make(map[string]*tensor.RawTensor)
	for name, raw := range f.Tensors {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optDict[rest] = raw
			continue
		}
		modelDict[name] = raw
	}
	if err := LoadStateDict(model, modelDict); err != nil {
		return nil, fmt.Errorf("failed to load model state: %w", err)
	}
	if optimizer != nil {
		if err := optimizer.LoadStateDict(optDict); err != nil {
			return nil, fmt.Errorf("failed to load optimizer state: %w", err)
		}
	}

	ckpt := &Checkpoint[B]{Model: model, Optimizer: optimizer, Metadata: f.Metadata}
	if v, ok := f.Metadata[MetaEpoch]; ok {
		if ckpt.Epoch, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid epoch %q: %w", v, err)
		}
	}
	if v, ok := f.Metadata[MetaStep]; ok {
		if ckpt.Step, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid step %q: %w", v, err)
		}
	}
	if v, ok := f.Metadata[MetaAccuracy]; ok {
		if ckpt.Accuracy, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid accuracy %q: %w", v, err)
		}
	}
	if v, ok := f.Metadata[MetaCreatedAt]; ok {
		if ckpt.CreatedAt, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", v, err)
		}
	}
	return ckpt, nil
}
