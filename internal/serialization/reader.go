package serialization

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/neuralode/internal/tensor"
)

// File is a decoded safetensors file.
type File struct {
	Tensors  map[string]*tensor.RawTensor
	Metadata map[string]string
}

// Decode reads a safetensors stream from r, validating offsets and the
// data checksum when one is recorded.
func Decode(r io.Reader) (*File, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimRight(headerJSON, " "), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	file := &File{
		Tensors:  make(map[string]*tensor.RawTensor, len(entries)),
		Metadata: map[string]string{},
	}
	infos := make(map[string]TensorInfo, len(entries))
	for name, msg := range entries {
		if name == MetadataKey {
			if err := json.Unmarshal(msg, &file.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("failed to parse tensor %q: %w", name, err)
		}
		infos[name] = info
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if want, ok := file.Metadata[ChecksumKey]; ok {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return nil, ErrChecksumMismatch
		}
	}

	if err := validateOffsets(infos, len(data)); err != nil {
		return nil, err
	}
	for name, info := range infos {
		dt, err := decodeDType(info.DType)
		if err != nil {
			return nil, &ValidationError{Tensor: name, Details: "bad dtype", Err: err}
		}
		raw, err := tensor.NewRaw(tensor.Shape(info.Shape), dt, tensor.CPU)
		if err != nil {
			return nil, &ValidationError{Tensor: name, Details: err.Error(), Err: ErrOutOfBounds}
		}
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if end-begin != raw.ByteSize() {
			return nil, &ValidationError{
				Tensor:  name,
				Details: fmt.Sprintf("shape %v needs %d bytes, offsets span %d", info.Shape, raw.ByteSize(), end-begin),
				Err:     ErrOutOfBounds,
			}
		}
		copy(raw.Data(), data[begin:end])
		file.Tensors[name] = raw
	}
	return file, nil
}

// validateOffsets checks that every tensor lies inside the data section and
// that no two tensors overlap.
func validateOffsets(infos map[string]TensorInfo, dataLen int) error {
	names := make([]string, 0, len(infos))
	for name, info := range infos {
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin || end > dataLen {
			return &ValidationError{
				Tensor:  name,
				Details: fmt.Sprintf("offsets [%d, %d) outside data of %d bytes", begin, end, dataLen),
				Err:     ErrOutOfBounds,
			}
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return infos[names[i]].DataOffsets[0] < infos[names[j]].DataOffsets[0]
	})
	for i := 1; i < len(names); i++ {
		if infos[names[i]].DataOffsets[0] < infos[names[i-1]].DataOffsets[1] {
			return &ValidationError{Tensor: names[i], Details: "overlaps " + names[i-1], Err: ErrOffsetOverlap}
		}
	}
	return nil
}

// ReadFile decodes the safetensors file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	file, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return file, nil
}
