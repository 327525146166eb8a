package nn

import (
	"fmt"

	"github.com/born-ml/neuralode/internal/tensor"
)

// GroupNorm normalizes channels in groups (Wu & He, 2018):
//
//	y = (x - mean_g) / sqrt(var_g + eps) * weight + bias
//
// where mean_g and var_g are computed per sample over each group of
// channels/groups channels and all spatial positions. Variance is biased.
// weight and bias are per-channel affine parameters initialized to 1 and 0.
type GroupNorm[B tensor.Backend] struct {
	groups   int
	channels int
	eps      float64
	weight   *Parameter[B]
	bias     *Parameter[B]
}

// NewGroupNorm creates a GroupNorm layer. channels must be divisible by groups.
func NewGroupNorm[B tensor.Backend](groups, channels int, eps float64, backend B) *GroupNorm[B] {
	if groups <= 0 || channels <= 0 || channels%groups != 0 {
		panic(fmt.Sprintf("groupnorm: %d channels cannot be split into %d groups", channels, groups))
	}
	return &GroupNorm[B]{
		groups:   groups,
		channels: channels,
		eps:      eps,
		weight:   NewParameter("weight", Ones(tensor.Shape{channels}, backend)),
		bias:     NewParameter("bias", Zeros(tensor.Shape{channels}, backend)),
	}
}

// Norm is GroupNorm(min(32, dim), dim) with eps 1e-5.
func Norm[B tensor.Backend](dim int, backend B) *GroupNorm[B] {
	return NewGroupNorm(min(32, dim), dim, 1e-5, backend)
}

// Forward normalizes an input of shape [N, C, ...].
func (g *GroupNorm[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 || shape[1] != g.channels {
		panic(fmt.Sprintf("groupnorm: expected input [N, %d, ...], got %v", g.channels, shape))
	}
	n := shape[0]
	spatial := input.NumElements() / (n * g.channels)

	grouped := input.Reshape(n, g.groups, -1)
	mean := grouped.MeanDim(2, true)
	centered := grouped.Sub(mean)
	variance := centered.Mul(centered).MeanDim(2, true)
	normed := centered.Mul(variance.AddScalar(g.eps).Rsqrt())

	out := normed.Reshape(n, g.channels, spatial)
	out = out.Mul(g.weight.Tensor().Reshape(1, g.channels, 1)).Add(g.bias.Tensor().Reshape(1, g.channels, 1))
	return out.Reshape(shape...)
}

// Parameters returns weight and bias.
func (g *GroupNorm[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{g.weight, g.bias}
}

func (g *GroupNorm[B]) String() string {
	return fmt.Sprintf("GroupNorm(%d, %d, eps=%g)", g.groups, g.channels, g.eps)
}
