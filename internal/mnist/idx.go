package mnist

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"
)

// IDX magic numbers.
const (
	imagesMagic = 2051
	labelsMagic = 2049
)

// ReadImages decodes an IDX image file:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255)
func ReadImages(r io.Reader) (pixels [][]byte, rows, cols int, err error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("read image header: %w", err)
	}
	if header[0] != imagesMagic {
		return nil, 0, 0, fmt.Errorf("invalid image magic number: got %d, want %d", header[0], imagesMagic)
	}
	n, rows, cols := int(header[1]), int(header[2]), int(header[3])

	pixels = make([][]byte, n)
	for i := range pixels {
		pixels[i] = make([]byte, rows*cols)
		if _, err := io.ReadFull(r, pixels[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("read image %d: %w", i, err)
		}
	}
	return pixels, rows, cols, nil
}

// ReadLabels decodes an IDX label file:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func ReadLabels(r io.Reader) ([]byte, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("read label header: %w", err)
	}
	if header[0] != labelsMagic {
		return nil, fmt.Errorf("invalid label magic number: got %d, want %d", header[0], labelsMagic)
	}
	labels := make([]byte, header[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return labels, nil
}

// withIDXFile opens path, transparently decompressing gzip, and passes the
// stream to fn.
func withIDXFile(path string, fn func(io.Reader) error) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if magic[0] != 0x1f || magic[1] != 0x8b {
		return fn(br)
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return fmt.Errorf("gzip %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, zr.Close())
	}()
	return fn(zr)
}
