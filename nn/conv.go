package nn

import (
	"fmt"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// Padding 卷积/池化的填充方式
type Padding string

const (
	PaddingValid Padding = "valid"
	PaddingSame  Padding = "same"
)

func ParsePadding(s string) (Padding, error) {
	switch Padding(s) {
	case "", PaddingValid:
		return PaddingValid, nil
	case PaddingSame:
		return PaddingSame, nil
	}
	return "", fmt.Errorf("unknown padding %q", s)
}

// outputSize 输出尺寸以及前置填充
func outputSize(in, k, stride int, p Padding) (out, padBefore int) {
	if p == PaddingSame {
		out = (in + stride - 1) / stride
		total := max((out-1)*stride+k-in, 0)
		return out, total / 2
	}
	return (in-k)/stride + 1, 0
}

// Conv2D NHWC 二维卷积，kernel 布局 [kh, kw, cin, cout]
type Conv2D struct {
	name       string
	kh, kw     int
	cin, cout  int
	stride     int
	padding    Padding
	kernel     []float32
	bias       []float32
	Activation ActivationKind
}

func NewConv2D(name string, kernel, bias []float32, kh, kw, cin, cout, stride int, padding Padding, act ActivationKind) (*Conv2D, error) {
	if len(kernel) != kh*kw*cin*cout {
		return nil, fmt.Errorf("conv2d %s: kernel has %d values, want %d", name, len(kernel), kh*kw*cin*cout)
	}
	if len(bias) != cout {
		return nil, fmt.Errorf("conv2d %s: bias has %d values, want %d", name, len(bias), cout)
	}
	if stride < 1 {
		stride = 1
	}
	return &Conv2D{
		name: name, kh: kh, kw: kw, cin: cin, cout: cout,
		stride: stride, padding: padding,
		kernel: kernel, bias: bias, Activation: act,
	}, nil
}

func (c *Conv2D) Name() string { return c.name }

func (c *Conv2D) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 || in[3] != c.cin {
		return nil, &ShapeError{Layer: c.name, Want: []int{1, -1, -1, c.cin}, Got: in}
	}
	oh, _ := outputSize(in[1], c.kh, c.stride, c.padding)
	ow, _ := outputSize(in[2], c.kw, c.stride, c.padding)
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("conv2d %s: input %v too small for kernel %dx%d", c.name, in, c.kh, c.kw)
	}
	return []int{in[0], oh, ow, c.cout}, nil
}

// window 对每个有效的 (输出位置, 卷积核位置) 调用 fn
func (c *Conv2D) window(in, out []int, fn func(xi, ki, oi int)) {
	_, padT := outputSize(in[1], c.kh, c.stride, c.padding)
	_, padL := outputSize(in[2], c.kw, c.stride, c.padding)
	h, w := in[1], in[2]
	oh, ow := out[1], out[2]
	for n := 0; n < in[0]; n++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				oi := ((n*oh+oy)*ow + ox) * c.cout
				for ky := 0; ky < c.kh; ky++ {
					iy := oy*c.stride + ky - padT
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < c.kw; kx++ {
						ix := ox*c.stride + kx - padL
						if ix < 0 || ix >= w {
							continue
						}
						xi := ((n*h+iy)*w + ix) * c.cin
						ki := (ky*c.kw + kx) * c.cin * c.cout
						fn(xi, ki, oi)
					}
				}
			}
		}
	}
}

func (c *Conv2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	outShape, err := c.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	z := make([]float32, tensor.Volume(outShape))
	for i := 0; i < len(z); i += c.cout {
		copy(z[i:i+c.cout], c.bias)
	}
	c.window(x.Shape, outShape, func(xi, ki, oi int) {
		for ci := 0; ci < c.cin; ci++ {
			xv := x.Data[xi+ci]
			if xv == 0 {
				continue
			}
			krow := c.kernel[ki+ci*c.cout : ki+(ci+1)*c.cout]
			acc := z[oi : oi+c.cout]
			for co, kv := range krow {
				acc[co] += xv * kv
			}
		}
	})
	return tensor.FromSlice(activate(c.Activation, z, c.cout), outShape...)
}

func (c *Conv2D) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	dz := activationGrad(c.Activation, y.Data, dy.Data, c.cout)
	dx := make([]float32, len(x.Data))
	c.window(x.Shape, y.Shape, func(xi, ki, oi int) {
		g := dz[oi : oi+c.cout]
		for ci := 0; ci < c.cin; ci++ {
			krow := c.kernel[ki+ci*c.cout : ki+(ci+1)*c.cout]
			var sum float32
			for co, kv := range krow {
				sum += g[co] * kv
			}
			dx[xi+ci] += sum
		}
	})
	return tensor.FromSlice(dx, x.Shape...)
}
