// Package nn 提供推理期可微分的网络层：前向计算与针对输入的反向传播。
//
// 各层不保存调用期状态，中间激活值只存在于单次 Forward/InputGradient 调用中，
// 因此同一个 Sequential 可以被多个 goroutine 并发使用。
package nn

import (
	"errors"
	"fmt"
	"slices"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// ErrShape 输入形状与层期望不符
var ErrShape = errors.New("nn: shape mismatch")

// ShapeError 描述具体的形状不匹配
type ShapeError struct {
	Layer string
	Want  []int
	Got   []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("nn: layer %q expects shape %v, got %v", e.Layer, e.Want, e.Got)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

// Layer 单个可微分层，形状均包含 batch 维
type Layer interface {
	Name() string
	OutputShape(in []int) ([]int, error)
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	// Backward 根据该层输入 x、输出 y 与上游梯度 dy 计算 dL/dx
	Backward(x, y, dy *tensor.Tensor) (*tensor.Tensor, error)
}

// Sequential 顺序堆叠的网络
type Sequential struct {
	inputShape  []int
	outputShape []int
	layers      []Layer
}

// NewSequential 构建网络并逐层校验形状；inputShape 不含 batch 维
func NewSequential(inputShape []int, layers ...Layer) (*Sequential, error) {
	shape := append([]int{1}, inputShape...)
	for _, l := range layers {
		out, err := l.OutputShape(shape)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name(), err)
		}
		shape = out
	}
	return &Sequential{
		inputShape:  slices.Clone(inputShape),
		outputShape: shape[1:],
		layers:      layers,
	}, nil
}

func (s *Sequential) InputShape() []int  { return slices.Clone(s.inputShape) }
func (s *Sequential) OutputShape() []int { return slices.Clone(s.outputShape) }
func (s *Sequential) Layers() []Layer    { return s.layers }

func (s *Sequential) checkInput(x *tensor.Tensor) error {
	if len(x.Shape) != len(s.inputShape)+1 || !slices.Equal(x.Shape[1:], s.inputShape) {
		return &ShapeError{Layer: "input", Want: append([]int{x.Shape[0]}, s.inputShape...), Got: x.Shape}
	}
	return nil
}

// Forward 前向计算
func (s *Sequential) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	acts, err := s.trace(x)
	if err != nil {
		return nil, err
	}
	return acts[len(acts)-1], nil
}

func (s *Sequential) trace(x *tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := s.checkInput(x); err != nil {
		return nil, err
	}
	acts := make([]*tensor.Tensor, 0, len(s.layers)+1)
	acts = append(acts, x)
	cur := x
	for _, l := range s.layers {
		next, err := l.Forward(cur)
		if err != nil {
			return nil, fmt.Errorf("forward %s: %w", l.Name(), err)
		}
		acts = append(acts, next)
		cur = next
	}
	return acts, nil
}

// InputGradient 单次前向 + 单次反向，返回网络输出以及 upstream·∂out/∂x
func (s *Sequential) InputGradient(x, upstream *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	acts, err := s.trace(x)
	if err != nil {
		return nil, nil, err
	}
	out := acts[len(acts)-1]
	if !out.SameShape(upstream) {
		return nil, nil, &ShapeError{Layer: "upstream", Want: out.Shape, Got: upstream.Shape}
	}

	grad := upstream
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad, err = s.layers[i].Backward(acts[i], acts[i+1], grad)
		if err != nil {
			return nil, nil, fmt.Errorf("backward %s: %w", s.layers[i].Name(), err)
		}
	}
	return out, grad, nil
}
