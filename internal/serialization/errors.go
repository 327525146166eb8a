// Package serialization reads and writes tensors in the safetensors format.
//
// File layout:
//
//	[8 bytes: little-endian header length N]
//	[N bytes: JSON header, space-padded to 8-byte alignment]
//	[tensor data, in the order given by data_offsets]
//
// The JSON header maps tensor names to {dtype, shape, data_offsets} and may
// carry a "__metadata__" object of string pairs. Writers add a SHA-256 digest
// of the data section under the "sha256" metadata key; readers verify it when
// present.
package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")
	ErrOffsetOverlap    = errors.New("tensor offsets overlap")
	ErrOutOfBounds      = errors.New("tensor extends beyond data section")
	ErrHeaderTooLarge   = errors.New("header exceeds maximum size")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrInvalidName      = errors.New("invalid tensor name")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Tensor  string
	Details string
	Err     error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor != "" {
		return fmt.Sprintf("tensor %q: %s: %v", e.Tensor, e.Details, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Details, e.Err)
}

// Unwrap exposes the sentinel error for errors.Is.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
