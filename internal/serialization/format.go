package serialization

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

const (
	// MaxHeaderSize bounds the JSON header a reader will accept.
	MaxHeaderSize = 100 << 20

	// MetadataKey is the reserved header entry holding string metadata.
	MetadataKey = "__metadata__"

	// ChecksumKey is the metadata entry holding the hex SHA-256 of the data section.
	ChecksumKey = "sha256"

	headerAlignment = 8
)

// TensorInfo describes one tensor entry of a safetensors header.
type TensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

var dtypeNames = map[tensor.DataType]string{
	tensor.Float32: "F32",
	tensor.Float64: "F64",
	tensor.Int32:   "I32",
	tensor.Int64:   "I64",
	tensor.Uint8:   "U8",
}

func encodeDType(dt tensor.DataType) (string, error) {
	name, ok := dtypeNames[dt]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
	return name, nil
}

func decodeDType(name string) (tensor.DataType, error) {
	for dt, n := range dtypeNames {
		if n == name {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, name)
}
