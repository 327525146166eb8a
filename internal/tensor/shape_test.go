package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape_NumElements(t *testing.T) {
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 24, Shape{2, 3, 4}.NumElements())
}

func TestShape_ComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, Shape{2, 3, 4}.ComputeStrides())
	assert.Empty(t, Shape{}.ComputeStrides())
}

func TestShape_Validate(t *testing.T) {
	require.NoError(t, Shape{1, 2}.Validate())
	require.Error(t, Shape{1, 0}.Validate())
	require.Error(t, Shape{-3}.Validate())
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{"equal", Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false, false},
		{"row", Shape{2, 3}, Shape{1, 3}, Shape{2, 3}, true, false},
		{"rank", Shape{4, 2, 3}, Shape{3}, Shape{4, 2, 3}, true, false},
		{"channel", Shape{8, 64, 6, 6}, Shape{1, 64, 1, 1}, Shape{8, 64, 6, 6}, true, false},
		{"scalar", Shape{}, Shape{5}, Shape{5}, true, false},
		{"mismatch", Shape{2, 3}, Shape{4, 3}, nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, broadcast, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.broadcast, broadcast)
		})
	}
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 0}, BroadcastStrides(Shape{1, 64, 1, 1}, Shape{8, 64, 6, 6}))
	assert.Equal(t, []int{0, 1}, BroadcastStrides(Shape{3}, Shape{2, 3}))
}

func TestRawTensor_ViewSharesData(t *testing.T) {
	r := MustNewRaw(Shape{2, 3}, Float32, CPU)
	v, err := r.View(Shape{3, 2})
	require.NoError(t, err)
	v.AsFloat32()[5] = 7
	assert.Equal(t, float32(7), r.AsFloat32()[5])

	_, err = r.View(Shape{4})
	require.Error(t, err)
}

func TestRawTensor_CloneIsDeep(t *testing.T) {
	r := MustNewRaw(Shape{2}, Float64, CPU)
	c := r.Clone()
	c.AsFloat64()[0] = 1
	assert.Equal(t, 0.0, r.AsFloat64()[0])
}

func TestParseDataType(t *testing.T) {
	dt, ok := ParseDataType("int32")
	require.True(t, ok)
	assert.Equal(t, Int32, dt)
	_, ok = ParseDataType("bfloat16")
	assert.False(t, ok)
}
