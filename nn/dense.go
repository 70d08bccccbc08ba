package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// Dense 全连接层，kernel 布局为 [in, out]
type Dense struct {
	name       string
	in, out    int
	kernel     *mat.Dense
	bias       []float64
	Activation ActivationKind
}

// NewDense 使用 [in,out] 行优先的权重和长度为 out 的偏置构建全连接层
func NewDense(name string, kernel []float32, bias []float32, in, out int, act ActivationKind) (*Dense, error) {
	if len(kernel) != in*out {
		return nil, fmt.Errorf("dense %s: kernel has %d values, want %d", name, len(kernel), in*out)
	}
	if len(bias) != out {
		return nil, fmt.Errorf("dense %s: bias has %d values, want %d", name, len(bias), out)
	}
	k := make([]float64, len(kernel))
	for i, v := range kernel {
		k[i] = float64(v)
	}
	b := make([]float64, out)
	for i, v := range bias {
		b[i] = float64(v)
	}
	return &Dense{
		name:       name,
		in:         in,
		out:        out,
		kernel:     mat.NewDense(in, out, k),
		bias:       b,
		Activation: act,
	}, nil
}

func (d *Dense) Name() string { return d.name }
func (d *Dense) Units() int   { return d.out }

func (d *Dense) OutputShape(in []int) ([]int, error) {
	if len(in) != 2 || in[1] != d.in {
		return nil, &ShapeError{Layer: d.name, Want: []int{in[0], d.in}, Got: in}
	}
	return []int{in[0], d.out}, nil
}

func toDense(t *tensor.Tensor) *mat.Dense {
	data := make([]float64, len(t.Data))
	for i, v := range t.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], data)
}

func fromDense(m *mat.Dense) []float32 {
	r, c := m.Dims()
	out := make([]float32, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, float32(m.At(i, j)))
		}
	}
	return out
}

func (d *Dense) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if _, err := d.OutputShape(x.Shape); err != nil {
		return nil, err
	}
	var z mat.Dense
	z.Mul(toDense(x), d.kernel)
	n := x.Shape[0]
	for i := 0; i < n; i++ {
		for j := 0; j < d.out; j++ {
			z.Set(i, j, z.At(i, j)+d.bias[j])
		}
	}
	return tensor.FromSlice(activate(d.Activation, fromDense(&z), d.out), n, d.out)
}

func (d *Dense) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	dz, err := tensor.FromSlice(activationGrad(d.Activation, y.Data, dy.Data, d.out), dy.Shape...)
	if err != nil {
		return nil, err
	}
	var dx mat.Dense
	dx.Mul(toDense(dz), d.kernel.T())
	return tensor.FromSlice(fromDense(&dx), x.Shape...)
}
