package tensor

import (
	"fmt"
	"slices"
)

// Tensor 行优先存储的 float32 张量
type Tensor struct {
	Shape []int
	Data  []float32
}

// New 创建指定形状的零张量
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float32, Volume(shape)),
	}
}

// FromSlice 使用已有数据创建张量，数据长度必须与形状一致
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != Volume(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Volume 计算形状对应的元素个数
func Volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func (t *Tensor) Len() int {
	return len(t.Data)
}

// Clone 深拷贝
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// SameShape 判断两个张量形状是否一致
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

// Reshape 返回共享数据的新视图
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Volume(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: t.Data}, nil
}

// NHWC 返回 4 维图像张量的各维大小
func (t *Tensor) NHWC() (n, h, w, c int, err error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("expected 4-D tensor, got shape %v", t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// Index4 NHWC 坐标到线性下标
func (t *Tensor) Index4(n, y, x, c int) int {
	return ((n*t.Shape[1]+y)*t.Shape[2]+x)*t.Shape[3] + c
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.Shape)
}
