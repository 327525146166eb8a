// Package mnist fetches, decodes and batches the MNIST handwritten digit
// dataset.
//
// The four IDX archives are downloaded from a mirror, verified against their
// published SHA-256 digests and decoded into a Dataset. Loader turns a Dataset
// into mini-batches of tensors; Generator cycles through a Loader forever.
package mnist

import "fmt"

// DefaultMirror serves the gzip IDX archives.
const DefaultMirror = "https://ossci-datasets.s3.amazonaws.com/mnist/"

// Image geometry of MNIST digits.
const (
	Rows    = 28
	Cols    = 28
	Classes = 10
)

// Split selects the training or test part of the dataset.
type Split string

// Dataset splits.
const (
	Train Split = "train"
	Test  Split = "t10k"
)

func (s Split) imagesFile() string {
	return fmt.Sprintf("%s-images-idx3-ubyte.gz", s)
}

func (s Split) labelsFile() string {
	return fmt.Sprintf("%s-labels-idx1-ubyte.gz", s)
}

// Resource is a file of the dataset and its expected SHA-256 digest.
type Resource struct {
	Name   string
	SHA256 string
}

// Resources lists the four archives that make up MNIST.
var Resources = []Resource{
	{Name: Train.imagesFile(), SHA256: "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"},
	{Name: Train.labelsFile(), SHA256: "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"},
	{Name: Test.imagesFile(), SHA256: "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"},
	{Name: Test.labelsFile(), SHA256: "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"},
}
