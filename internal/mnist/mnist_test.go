package mnist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/born-ml/neuralode/internal/backend/cpu"
)

func encodeImages(images [][]byte, rows, cols int) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, [4]uint32{imagesMagic, uint32(len(images)), uint32(rows), uint32(cols)})
	for _, img := range images {
		buf.Write(img)
	}
	return buf.Bytes()
}

func encodeLabels(labels []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, [2]uint32{labelsMagic, uint32(len(labels))})
	buf.Write(labels)
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// writeSplit writes a tiny 2x3 split to dir.
func writeSplit(t *testing.T, dir string, split Split, compressed bool) {
	t.Helper()
	images := encodeImages([][]byte{{0, 255, 0, 51, 0, 0}, {255, 255, 255, 0, 0, 0}}, 2, 3)
	labels := encodeLabels([]byte{7, 1})
	imgName, lblName := split.imagesFile(), split.labelsFile()
	if compressed {
		images, labels = gzipBytes(t, images), gzipBytes(t, labels)
	} else {
		imgName, lblName = strings.TrimSuffix(imgName, ".gz"), strings.TrimSuffix(lblName, ".gz")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, imgName), images, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, lblName), labels, 0o644))
}

func TestLoad(t *testing.T) {
	for _, compressed := range []bool{true, false} {
		dir := t.TempDir()
		writeSplit(t, dir, Train, compressed)

		ds, err := Load(dir, Train)
		require.NoError(t, err)
		assert.Equal(t, 2, ds.Len())
		assert.Equal(t, 2, ds.Rows)
		assert.Equal(t, 3, ds.Cols)
		assert.Equal(t, []int32{7, 1}, ds.Labels)
		assert.InDelta(t, 1.0, ds.Images[0][1], 1e-6)
		assert.InDelta(t, 0.2, ds.Images[0][3], 1e-6)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, Test)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "t10k-images-idx3-ubyte"), encodeLabels(make([]byte, 8)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t10k-labels-idx1-ubyte"), encodeLabels([]byte{1}), 0o644))
	_, err = Load(dir, Test)
	assert.ErrorContains(t, err, "magic")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "t10k-images-idx3-ubyte"), encodeImages([][]byte{{1}}, 1, 1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "t10k-labels-idx1-ubyte"), encodeLabels([]byte{1, 2}), 0o644))
	_, err = Load(dir, Test)
	assert.ErrorContains(t, err, "label count")
}

func TestReadImages_Truncated(t *testing.T) {
	data := encodeImages([][]byte{{1, 2, 3, 4}}, 2, 2)
	_, _, _, err := ReadImages(bytes.NewReader(data[:len(data)-1]))
	assert.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	a := Synthetic(25, 3)
	b := Synthetic(25, 3)
	assert.Equal(t, a, b)
	assert.Equal(t, 25, a.Len())
	assert.Equal(t, int32(4), a.Labels[14])
	for _, img := range a.Images {
		require.Len(t, img, Rows*Cols)
		for _, v := range img {
			assert.True(t, v >= 0 && v <= 1)
		}
	}
	assert.Equal(t, 10, a.Subset(10).Len())
	assert.Same(t, a, a.Subset(0))
}

func TestLoader_Batches(t *testing.T) {
	ds := Synthetic(10, 0)
	b := cpu.New()

	keep, err := NewLoader(ds, LoaderConfig{BatchSize: 4}, b)
	require.NoError(t, err)
	assert.Equal(t, 3, keep.Len())
	var sizes []int
	for batch := range keep.Epoch() {
		sizes = append(sizes, batch.Size)
		assert.Equal(t, batch.Size, batch.Images.Shape()[0])
		assert.Equal(t, 1, batch.Images.Shape()[1])
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)

	drop, err := NewLoader(ds, LoaderConfig{BatchSize: 4, DropLast: true}, b)
	require.NoError(t, err)
	assert.Equal(t, 2, drop.Len())
	n := 0
	for range drop.Epoch() {
		n++
	}
	assert.Equal(t, 2, n)

	_, err = NewLoader(ds, LoaderConfig{BatchSize: 0}, b)
	assert.Error(t, err)
	_, err = NewLoader(ds, LoaderConfig{BatchSize: 11, DropLast: true}, b)
	assert.Error(t, err)
}

func TestLoader_OrderAndShuffle(t *testing.T) {
	ds := Synthetic(20, 0)
	b := cpu.New()
	labelsOf := func(l *Loader[*cpu.CPUBackend]) []int32 {
		var out []int32
		for batch := range l.Epoch() {
			out = append(out, batch.Labels.Data()...)
		}
		return out
	}

	plain, err := NewLoader(ds, LoaderConfig{BatchSize: 7}, b)
	require.NoError(t, err)
	assert.Equal(t, ds.Labels, labelsOf(plain))

	s1, _ := NewLoader(ds, LoaderConfig{BatchSize: 7, Shuffle: true, Seed: 5}, b)
	s2, _ := NewLoader(ds, LoaderConfig{BatchSize: 7, Shuffle: true, Seed: 5}, b)
	first := labelsOf(s1)
	assert.Equal(t, first, labelsOf(s2))
	assert.ElementsMatch(t, ds.Labels, first)
	assert.NotEqual(t, first, labelsOf(s1), "each epoch should draw a new order")
}

func TestRandomCrop(t *testing.T) {
	src := []float32{
		1, 2, 3,
		4, 5, 6,
	}
	dst := make([]float32, 6)
	randomCrop(dst, src, 2, 3, cropPadding, cropPadding)
	assert.Equal(t, src, dst)

	randomCrop(dst, src, 2, 3, cropPadding+1, cropPadding)
	assert.Equal(t, []float32{4, 5, 6, 0, 0, 0}, dst)

	randomCrop(dst, src, 2, 3, cropPadding, cropPadding-1)
	assert.Equal(t, []float32{0, 1, 2, 0, 4, 5}, dst)
}

func TestGenerator_Cycles(t *testing.T) {
	l, err := NewLoader(Synthetic(5, 0), LoaderConfig{BatchSize: 2, DropLast: true, Shuffle: true}, cpu.New())
	require.NoError(t, err)
	g := NewGenerator(l)
	defer g.Close()
	for range 7 {
		batch := g.Next()
		assert.Equal(t, 2, batch.Size)
	}
}

func TestNewLoaders(t *testing.T) {
	ls, err := NewLoaders(Synthetic(30, 0), Synthetic(12, 1), 8, 10, true, 0, cpu.New())
	require.NoError(t, err)
	assert.Equal(t, 3, ls.Train.Len())
	assert.Equal(t, 3, ls.TrainEval.Len())
	assert.Equal(t, 2, ls.Test.Len())
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestFetch(t *testing.T) {
	files := map[string][]byte{
		"a.gz": gzipBytes(t, encodeLabels([]byte{1, 2, 3})),
		"b.gz": gzipBytes(t, encodeLabels([]byte{4})),
	}
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[strings.TrimPrefix(r.URL.Path, "/mnist/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodGet {
			requests.Add(1)
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	resources := []Resource{
		{Name: "a.gz", SHA256: digest(files["a.gz"])},
		{Name: "b.gz", SHA256: digest(files["b.gz"])},
	}
	dir := t.TempDir()
	opts := FetchOptions{Mirror: srv.URL + "/mnist/", Resources: resources, Download: true, Logger: zaptest.NewLogger(t).Sugar()}

	paths, err := Fetch(context.Background(), dir, opts)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for i, p := range paths {
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, files[resources[i].Name], got, "archive must be stored compressed")
	}
	assert.Equal(t, int32(2), requests.Load())

	// Present and valid files are not fetched again.
	_, err = Fetch(context.Background(), dir, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())

	// A corrupt file is replaced.
	require.NoError(t, os.WriteFile(paths[1], []byte("junk"), 0o644))
	_, err = Fetch(context.Background(), dir, opts)
	require.NoError(t, err)
	assert.NoError(t, Verify(paths[1], resources[1].SHA256))
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "x", time.Time{}, bytes.NewReader([]byte("wrong contents")))
	}))
	defer srv.Close()

	resources := []Resource{{Name: "x.gz", SHA256: digest([]byte("expected contents"))}}
	_, err := Fetch(context.Background(), t.TempDir(), FetchOptions{Mirror: srv.URL, Resources: resources, Download: true})
	assert.Error(t, err)

	_, err = Fetch(context.Background(), t.TempDir(), FetchOptions{Mirror: srv.URL, Resources: resources})
	assert.ErrorContains(t, err, "download is disabled")
}

func TestVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	assert.NoError(t, Verify(path, digest([]byte("abc"))))
	assert.True(t, errors.Is(Verify(path, digest([]byte("abd"))), ErrChecksumMismatch))
	assert.True(t, errors.Is(Verify(path+"x", ""), os.ErrNotExist))
}
