package model

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/nn"
	"github.com/born-ml/neuralode/internal/tensor"
)

// ResBlock is a pre-activation residual block:
//
//	out = conv2(relu(norm2(conv1(relu(norm1(x)))))) + shortcut
//
// The shortcut is x, or a strided 1x1 convolution of relu(norm1(x)) when the
// block changes resolution or width.
type ResBlock[B tensor.Backend] struct {
	norm1      *nn.GroupNorm[B]
	relu       *nn.ReLU[B]
	downsample *nn.Conv2D[B]
	conv1      *nn.Conv2D[B]
	norm2      *nn.GroupNorm[B]
	conv2      *nn.Conv2D[B]
	inplanes   int
	planes     int
	stride     int
}

// NewResBlock creates a residual block. A projection shortcut is added when
// stride != 1 or inplanes != planes.
func NewResBlock[B tensor.Backend](inplanes, planes, stride int, backend B) *ResBlock[B] {
	r := &ResBlock[B]{
		norm1:    nn.Norm(inplanes, backend),
		relu:     nn.NewReLU[B](),
		conv1:    nn.Conv3x3(inplanes, planes, stride, backend),
		norm2:    nn.Norm(planes, backend),
		conv2:    nn.Conv3x3(planes, planes, 1, backend),
		inplanes: inplanes,
		planes:   planes,
		stride:   stride,
	}
	if stride != 1 || inplanes != planes {
		r.downsample = nn.Conv1x1(inplanes, planes, stride, backend)
	}
	return r
}

// Forward performs the forward pass.
func (r *ResBlock[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shortcut := x
	out := r.relu.Forward(r.norm1.Forward(x))
	if r.downsample != nil {
		shortcut = r.downsample.Forward(out)
	}
	out = r.conv1.Forward(out)
	out = r.relu.Forward(r.norm2.Forward(out))
	out = r.conv2.Forward(out)
	return out.Add(shortcut)
}

// Parameters returns all trainable parameters.
func (r *ResBlock[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, r.norm1.Parameters()...)
	if r.downsample != nil {
		params = append(params, r.downsample.Parameters()...)
	}
	params = append(params, r.conv1.Parameters()...)
	params = append(params, r.norm2.Parameters()...)
	params = append(params, r.conv2.Parameters()...)
	return params
}

func (r *ResBlock[B]) String() string {
	return fmt.Sprintf("ResBlock(%d, %d, stride=%d, downsample=%v)", r.inplanes, r.planes, r.stride, r.downsample != nil)
}
