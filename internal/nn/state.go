package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// StateKey is the state-dict key of the i-th parameter of a module.
func StateKey(index int, name string) string {
	return fmt.Sprintf("%03d.%s", index, name)
}

// StateDict maps StateKey(i, name) to every parameter tensor of m.
// Keys follow Parameters() order, so two modules built the same way
// produce identical key sets.
func StateDict[B tensor.Backend](m Module[B]) map[string]*tensor.RawTensor {
	params := m.Parameters()
	dict := make(map[string]*tensor.RawTensor, len(params))
	for i, p := range params {
		dict[StateKey(i, p.Name())] = p.Tensor().Raw()
	}
	return dict
}

// LoadStateDict copies values from dict into the parameters of m.
// Every parameter must be present with a matching shape and dtype.
func LoadStateDict[B tensor.Backend](m Module[B], dict map[string]*tensor.RawTensor) error {
	for i, p := range m.Parameters() {
		key := StateKey(i, p.Name())
		raw, ok := dict[key]
		if !ok {
			return fmt.Errorf("missing %s in state dict", key)
		}
		dst := p.Tensor().Raw()
		if !raw.Shape().Equal(dst.Shape()) {
			return fmt.Errorf("%s shape mismatch: expected %v, got %v", key, dst.Shape(), raw.Shape())
		}
		if raw.DType() != dst.DType() {
			return fmt.Errorf("%s dtype mismatch: expected %s, got %s", key, dst.DType(), raw.DType())
		}
		if err := dst.CopyFrom(raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}
