package tensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndIndex(t *testing.T) {
	x := New(1, 2, 3, 4)
	require.Equal(t, 24, x.Len())

	n, h, w, c, err := x.NHWC()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{n, h, w, c})

	x.Data[x.Index4(0, 1, 2, 3)] = 7
	assert.Equal(t, float32(7), x.Data[23])
	assert.Equal(t, 4, x.Index4(0, 0, 1, 0))
}

func TestFromSliceLengthMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, 2, 2)
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	x, err := FromSlice([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)

	y := x.Clone()
	y.Data[0] = 9
	y.Shape[0] = 4

	assert.Equal(t, float32(1), x.Data[0])
	if diff := cmp.Diff([]int{2, 2}, x.Shape); diff != "" {
		t.Errorf("shape changed (-want +got):\n%s", diff)
	}
}

func TestReshape(t *testing.T) {
	x := New(1, 2, 2, 1)
	y, err := x.Reshape(1, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, y.Shape)

	_, err = x.Reshape(3)
	assert.Error(t, err)

	_, _, _, _, err = y.NHWC()
	assert.Error(t, err)
}
