package nn

import (
	"fmt"
	"math"
	"slices"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// ActivationKind 激活函数类型
type ActivationKind string

const (
	Linear  ActivationKind = "linear"
	ReLU    ActivationKind = "relu"
	Sigmoid ActivationKind = "sigmoid"
	Softmax ActivationKind = "softmax"
)

// ParseActivation 空字符串视为 linear
func ParseActivation(s string) (ActivationKind, error) {
	switch ActivationKind(s) {
	case "", Linear:
		return Linear, nil
	case ReLU, Sigmoid, Softmax:
		return ActivationKind(s), nil
	}
	return "", fmt.Errorf("unknown activation %q", s)
}

// activate 在最后一维上应用激活函数，返回新切片
func activate(kind ActivationKind, in []float32, lastDim int) []float32 {
	out := slices.Clone(in)
	switch kind {
	case ReLU:
		for i, v := range out {
			if v < 0 {
				out[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range out {
			out[i] = float32(1 / (1 + math.Exp(-float64(v))))
		}
	case Softmax:
		for start := 0; start < len(out); start += lastDim {
			row := out[start : start+lastDim]
			m := row[0]
			for _, v := range row[1:] {
				m = max(m, v)
			}
			sum := 0.0
			exps := make([]float64, lastDim)
			for i, v := range row {
				exps[i] = math.Exp(float64(v - m))
				sum += exps[i]
			}
			for i := range row {
				row[i] = float32(exps[i] / sum)
			}
		}
	}
	return out
}

// activationGrad 由激活输出 y 和 dL/dy 求 dL/dz
func activationGrad(kind ActivationKind, y, dy []float32, lastDim int) []float32 {
	dz := make([]float32, len(dy))
	switch kind {
	case ReLU:
		for i := range dy {
			if y[i] > 0 {
				dz[i] = dy[i]
			}
		}
	case Sigmoid:
		for i := range dy {
			dz[i] = dy[i] * y[i] * (1 - y[i])
		}
	case Softmax:
		for start := 0; start < len(dy); start += lastDim {
			dot := 0.0
			for i := start; i < start+lastDim; i++ {
				dot += float64(dy[i]) * float64(y[i])
			}
			for i := start; i < start+lastDim; i++ {
				dz[i] = float32(float64(y[i]) * (float64(dy[i]) - dot))
			}
		}
	default:
		copy(dz, dy)
	}
	return dz
}

// Activation 独立的激活层
type Activation struct {
	name string
	Kind ActivationKind
}

func NewActivation(name string, kind ActivationKind) *Activation {
	return &Activation{name: name, Kind: kind}
}

func (a *Activation) Name() string { return a.name }

func (a *Activation) OutputShape(in []int) ([]int, error) {
	return slices.Clone(in), nil
}

func (a *Activation) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FromSlice(activate(a.Kind, x.Data, x.Shape[len(x.Shape)-1]), x.Shape...)
}

func (a *Activation) Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.FromSlice(activationGrad(a.Kind, y.Data, dy.Data, y.Shape[len(y.Shape)-1]), x.Shape...)
}
