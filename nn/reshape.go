package nn

import (
	"slices"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// Flatten 保留 batch 维，其余维度展平
type Flatten struct {
	name string
}

func NewFlatten(name string) *Flatten { return &Flatten{name: name} }

func (f *Flatten) Name() string { return f.name }

func (f *Flatten) OutputShape(in []int) ([]int, error) {
	return []int{in[0], tensor.Volume(in[1:])}, nil
}

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FromSlice(slices.Clone(x.Data), x.Shape[0], tensor.Volume(x.Shape[1:]))
}

func (f *Flatten) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FromSlice(slices.Clone(dy.Data), x.Shape...)
}

// Dropout 推理期为恒等映射，仅记录训练时的比例
type Dropout struct {
	name string
	Rate float64
}

func NewDropout(name string, rate float64) *Dropout { return &Dropout{name: name, Rate: rate} }

func (d *Dropout) Name() string { return d.name }

func (d *Dropout) OutputShape(in []int) ([]int, error) {
	return slices.Clone(in), nil
}

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return x.Clone(), nil
}

func (d *Dropout) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	return dy.Clone(), nil
}
