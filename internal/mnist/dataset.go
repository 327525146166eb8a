package mnist

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

// Dataset is a set of images scaled to [0, 1] with their labels.
type Dataset struct {
	Images [][]float32 // [num_samples][rows*cols]
	Labels []int32
	Rows   int
	Cols   int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Subset returns the first n samples (all of them if n <= 0 or n >= Len).
func (d *Dataset) Subset(n int) *Dataset {
	if n <= 0 || n >= d.Len() {
		return d
	}
	return &Dataset{Images: d.Images[:n], Labels: d.Labels[:n], Rows: d.Rows, Cols: d.Cols}
}

// Load decodes one split from dir. Both the gzip archives and their
// decompressed counterparts (without the .gz suffix) are accepted.
func Load(dir string, split Split) (*Dataset, error) {
	imagesPath, err := findFile(dir, split.imagesFile())
	if err != nil {
		return nil, err
	}
	labelsPath, err := findFile(dir, split.labelsFile())
	if err != nil {
		return nil, err
	}

	var (
		pixels     [][]byte
		rows, cols int
		labels     []byte
	)
	err = withIDXFile(imagesPath, func(r io.Reader) error {
		var err error
		pixels, rows, cols, err = ReadImages(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mnist: load images: %w", err)
	}
	err = withIDXFile(labelsPath, func(r io.Reader) error {
		var err error
		labels, err = ReadLabels(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mnist: load labels: %w", err)
	}
	if len(pixels) != len(labels) {
		return nil, fmt.Errorf("mnist: image count (%d) != label count (%d)", len(pixels), len(labels))
	}

	ds := &Dataset{
		Images: make([][]float32, len(pixels)),
		Labels: make([]int32, len(labels)),
		Rows:   rows,
		Cols:   cols,
	}
	for i, img := range pixels {
		ds.Images[i] = make([]float32, len(img))
		for j, p := range img {
			ds.Images[i][j] = float32(p) / 255
		}
		if labels[i] >= Classes {
			return nil, fmt.Errorf("mnist: label %d of sample %d out of range", labels[i], i)
		}
		ds.Labels[i] = int32(labels[i])
	}
	return ds, nil
}

func findFile(dir, name string) (string, error) {
	for _, candidate := range []string{name, strings.TrimSuffix(name, ".gz")} {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("mnist: %s not found in %s: %w", name, dir, os.ErrNotExist)
}

// Synthetic creates n deterministic 28x28 samples for offline runs and tests.
// Sample i has label i%10 and a bright horizontal band whose position
// encodes the label, plus low-amplitude noise drawn from seed.
func Synthetic(n int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	ds := &Dataset{
		Images: make([][]float32, n),
		Labels: make([]int32, n),
		Rows:   Rows,
		Cols:   Cols,
	}
	for i := range n {
		label := i % Classes
		img := make([]float32, Rows*Cols)
		start := 2 + label*2
		for r := start; r < start+6; r++ {
			for c := 5; c < 23; c++ {
				img[r*Cols+c] = 0.8
			}
		}
		for j := range img {
			v := img[j] + float32(rng.Float64()*0.1)
			img[j] = min(v, 1)
		}
		ds.Images[i] = img
		ds.Labels[i] = int32(label)
	}
	return ds
}
