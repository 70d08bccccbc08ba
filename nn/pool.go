package nn

import (
	"fmt"
	"math"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// MaxPool2D 二维最大池化
type MaxPool2D struct {
	name    string
	ph, pw  int
	stride  int
	padding Padding
}

// NewMaxPool2D stride 为 0 时等于池化窗口大小
func NewMaxPool2D(name string, ph, pw, stride int, padding Padding) *MaxPool2D {
	if stride <= 0 {
		stride = ph
	}
	return &MaxPool2D{name: name, ph: ph, pw: pw, stride: stride, padding: padding}
}

func (p *MaxPool2D) Name() string { return p.name }

func (p *MaxPool2D) OutputShape(in []int) ([]int, error) {
	if len(in) != 4 {
		return nil, &ShapeError{Layer: p.name, Want: []int{1, -1, -1, -1}, Got: in}
	}
	oh, _ := outputSize(in[1], p.ph, p.stride, p.padding)
	ow, _ := outputSize(in[2], p.pw, p.stride, p.padding)
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("max_pooling2d %s: input %v too small for pool %dx%d", p.name, in, p.ph, p.pw)
	}
	return []int{in[0], oh, ow, in[3]}, nil
}

// argmax 对每个输出元素返回其窗口内最大值的输入下标
func (p *MaxPool2D) argmax(x *tensor.Tensor, out []int) []int {
	n, h, w, ch := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh, ow := out[1], out[2]
	_, padT := outputSize(h, p.ph, p.stride, p.padding)
	_, padL := outputSize(w, p.pw, p.stride, p.padding)

	idx := make([]int, tensor.Volume(out))
	for b := 0; b < n; b++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				for c := 0; c < ch; c++ {
					best, bestIdx := float32(math.Inf(-1)), -1
					for ky := 0; ky < p.ph; ky++ {
						iy := oy*p.stride + ky - padT
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < p.pw; kx++ {
							ix := ox*p.stride + kx - padL
							if ix < 0 || ix >= w {
								continue
							}
							i := ((b*h+iy)*w+ix)*ch + c
							if bestIdx < 0 || x.Data[i] > best {
								best, bestIdx = x.Data[i], i
							}
						}
					}
					idx[((b*oh+oy)*ow+ox)*ch+c] = bestIdx
				}
			}
		}
	}
	return idx
}

func (p *MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	outShape, err := p.OutputShape(x.Shape)
	if err != nil {
		return nil, err
	}
	idx := p.argmax(x, outShape)
	y := tensor.New(outShape...)
	for o, i := range idx {
		y.Data[o] = x.Data[i]
	}
	return y, nil
}

func (p *MaxPool2D) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	idx := p.argmax(x, y.Shape)
	dx := tensor.New(x.Shape...)
	for o, i := range idx {
		dx.Data[i] += dy.Data[o]
	}
	return dx, nil
}
