package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/brauliopf/brain-tumor-classification/classifier"
	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// GradientExtractor 计算目标类别输出对输入的梯度（单次反向传播）
type GradientExtractor struct{}

func NewGradientExtractor() *GradientExtractor {
	return &GradientExtractor{}
}

// Compute 返回与 x 同形状的逐通道梯度
func (ge *GradientExtractor) Compute(ctx context.Context, h classifier.Handle, x *tensor.Tensor, classIndex int) (*tensor.Tensor, error) {
	if err := classifier.CheckClassIndex(h, classIndex); err != nil {
		return nil, err
	}

	grad, err := h.Gradient(ctx, x, classIndex)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(grad.Shape, x.Shape) {
		return nil, fmt.Errorf("gradient shape %v does not match input %v", grad.Shape, x.Shape)
	}
	return grad, nil
}
