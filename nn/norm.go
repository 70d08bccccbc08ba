package nn

import (
	"fmt"
	"math"
	"slices"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// DefaultBatchNormEpsilon 与 Keras BatchNormalization 默认值一致
const DefaultBatchNormEpsilon = 1e-3

// BatchNorm 推理模式下的批归一化，沿最后一维做仿射变换
type BatchNorm struct {
	name  string
	scale []float32
	shift []float32
}

func NewBatchNorm(name string, gamma, beta, mean, variance []float32, epsilon float64) (*BatchNorm, error) {
	n := len(gamma)
	if len(beta) != n || len(mean) != n || len(variance) != n {
		return nil, fmt.Errorf("batch_normalization %s: parameter lengths differ", name)
	}
	scale := make([]float32, n)
	shift := make([]float32, n)
	for i := range gamma {
		s := float64(gamma[i]) / math.Sqrt(float64(variance[i])+epsilon)
		scale[i] = float32(s)
		shift[i] = float32(float64(beta[i]) - float64(mean[i])*s)
	}
	return &BatchNorm{name: name, scale: scale, shift: shift}, nil
}

func (b *BatchNorm) Name() string { return b.name }

func (b *BatchNorm) OutputShape(in []int) ([]int, error) {
	if in[len(in)-1] != len(b.scale) {
		return nil, &ShapeError{Layer: b.name, Want: []int{-1, len(b.scale)}, Got: in}
	}
	return slices.Clone(in), nil
}

func (b *BatchNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if _, err := b.OutputShape(x.Shape); err != nil {
		return nil, err
	}
	c := len(b.scale)
	y := tensor.New(x.Shape...)
	for i, v := range x.Data {
		y.Data[i] = v*b.scale[i%c] + b.shift[i%c]
	}
	return y, nil
}

func (b *BatchNorm) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	c := len(b.scale)
	dx := tensor.New(x.Shape...)
	for i, g := range dy.Data {
		dx.Data[i] = g * b.scale[i%c]
	}
	return dx, nil
}
