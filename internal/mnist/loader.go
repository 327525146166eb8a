package mnist

import (
	"fmt"
	"iter"
	"math/rand"

	"github.com/born-ml/neuralode/internal/tensor"
)

// cropPadding is the zero padding used by random-crop augmentation.
const cropPadding = 4

// Batch is a mini-batch ready for the model.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [N, 1, rows, cols]
	Labels *tensor.Tensor[int32, B]   // [N]
	Size   int
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool  // drop the final incomplete batch
	Augment   bool  // random 28x28 crop of the image padded by 4 pixels
	Seed      int64 // seeds shuffling and augmentation
}

// Loader splits a Dataset into mini-batches.
type Loader[B tensor.Backend] struct {
	ds      *Dataset
	cfg     LoaderConfig
	rng     *rand.Rand
	backend B
}

// NewLoader creates a loader over ds.
//
// Parameters:
//   - ds: samples to batch; the loader never modifies them
//   - cfg: batch size, shuffling, tail handling, augmentation and seed
//   - backend: backend the batch tensors are created on
//
// Returns an error if the batch size is not positive, the dataset is empty,
// or DropLast is set and ds cannot fill a single batch.
//
// Example:
//
//	loader, err := mnist.NewLoader(train, mnist.LoaderConfig{
//	    BatchSize: 128,
//	    Shuffle:   true,
//	    DropLast:  true,
//	}, backend)
//	for batch := range loader.Epoch() {
//	    logits := net.Forward(batch.Images)
//	}
func NewLoader[B tensor.Backend](ds *Dataset, cfg LoaderConfig, backend B) (*Loader[B], error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("mnist: batch size must be positive, got %d", cfg.BatchSize)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("mnist: empty dataset")
	}
	if cfg.DropLast && ds.Len() < cfg.BatchSize {
		return nil, fmt.Errorf("mnist: %d samples cannot fill a batch of %d", ds.Len(), cfg.BatchSize)
	}
	return &Loader[B]{
		ds:      ds,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		backend: backend,
	}, nil
}

// Len returns the number of batches per epoch.
func (l *Loader[B]) Len() int {
	n := l.ds.Len() / l.cfg.BatchSize
	if !l.cfg.DropLast && l.ds.Len()%l.cfg.BatchSize != 0 {
		n++
	}
	return n
}

// Dataset returns the underlying dataset.
func (l *Loader[B]) Dataset() *Dataset {
	return l.ds
}

// Epoch yields one pass over the dataset. Each call draws a new order when
// shuffling is enabled.
func (l *Loader[B]) Epoch() iter.Seq[*Batch[B]] {
	order := make([]int, l.ds.Len())
	if l.cfg.Shuffle {
		order = l.rng.Perm(l.ds.Len())
	} else {
		for i := range order {
			order[i] = i
		}
	}
	batches := l.Len()

	return func(yield func(*Batch[B]) bool) {
		for b := range batches {
			start := b * l.cfg.BatchSize
			end := min(start+l.cfg.BatchSize, len(order))
			if !yield(l.batch(order[start:end])) {
				return
			}
		}
	}
}

func (l *Loader[B]) batch(indices []int) *Batch[B] {
	rows, cols := l.ds.Rows, l.ds.Cols
	size := rows * cols
	n := len(indices)

	images := tensor.Zeros[float32](tensor.Shape{n, 1, rows, cols}, l.backend)
	labels := tensor.Zeros[int32](tensor.Shape{n}, l.backend)
	imgData := images.Data()
	lblData := labels.Data()
	for i, idx := range indices {
		dst := imgData[i*size : (i+1)*size]
		if l.cfg.Augment {
			randomCrop(dst, l.ds.Images[idx], rows, cols, l.rng.Intn(2*cropPadding+1), l.rng.Intn(2*cropPadding+1))
		} else {
			copy(dst, l.ds.Images[idx])
		}
		lblData[i] = l.ds.Labels[idx]
	}
	return &Batch[B]{Images: images, Labels: labels, Size: n}
}

// randomCrop writes the rows x cols window at offset (dy, dx) of src padded
// by cropPadding zeros on each side.
func randomCrop(dst, src []float32, rows, cols, dy, dx int) {
	for r := range rows {
		sr := r + dy - cropPadding
		for c := range cols {
			sc := c + dx - cropPadding
			if sr < 0 || sr >= rows || sc < 0 || sc >= cols {
				dst[r*cols+c] = 0
				continue
			}
			dst[r*cols+c] = src[sr*cols+sc]
		}
	}
}

// Generator yields batches forever, starting a new epoch whenever the current
// one is exhausted.
type Generator[B tensor.Backend] struct {
	loader *Loader[B]
	next   func() (*Batch[B], bool)
	stop   func()
}

// NewGenerator creates an infinite batch stream over l.
func NewGenerator[B tensor.Backend](l *Loader[B]) *Generator[B] {
	g := &Generator[B]{loader: l}
	g.next, g.stop = iter.Pull(l.Epoch())
	return g
}

// Next returns the next batch.
func (g *Generator[B]) Next() *Batch[B] {
	if b, ok := g.next(); ok {
		return b
	}
	g.stop()
	g.next, g.stop = iter.Pull(g.loader.Epoch())
	b, ok := g.next()
	if !ok {
		panic("mnist: loader yielded an empty epoch")
	}
	return b
}

// Close releases the current epoch.
func (g *Generator[B]) Close() {
	g.stop()
}

// Loaders are the three loaders used for training: shuffled (and optionally
// augmented) training batches, and unshuffled evaluation passes over the
// training and test sets.
type Loaders[B tensor.Backend] struct {
	Train     *Loader[B]
	TrainEval *Loader[B]
	Test      *Loader[B]
}

// NewLoaders builds the training, train-evaluation and test loaders.
func NewLoaders[B tensor.Backend](
	train, test *Dataset,
	batchSize, testBatchSize int,
	augment bool,
	seed int64,
	backend B,
) (*Loaders[B], error) {
	trainLoader, err := NewLoader(train, LoaderConfig{
		BatchSize: batchSize,
		Shuffle:   true,
		DropLast:  true,
		Augment:   augment,
		Seed:      seed,
	}, backend)
	if err != nil {
		return nil, fmt.Errorf("train loader: %w", err)
	}
	trainEval, err := NewLoader(train, LoaderConfig{BatchSize: testBatchSize}, backend)
	if err != nil {
		return nil, fmt.Errorf("train eval loader: %w", err)
	}
	testLoader, err := NewLoader(test, LoaderConfig{BatchSize: testBatchSize}, backend)
	if err != nil {
		return nil, fmt.Errorf("test loader: %w", err)
	}
	return &Loaders[B]{Train: trainLoader, TrainEval: trainEval, Test: testLoader}, nil
}
