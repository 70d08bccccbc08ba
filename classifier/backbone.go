package classifier

import (
	"context"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// Backbone 预训练特征提取网络（max pooling 输出）
type Backbone interface {
	FeatureSize() int
	// Features 输入 [1,S,S,3]，输出 [1,FeatureSize]
	Features(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error)
	// InputGradient 向量-雅可比积：featureGrad·∂features/∂x
	InputGradient(ctx context.Context, x, featureGrad *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// BackboneFactory 根据模型表项创建主干
type BackboneFactory func(ctx context.Context, spec Spec) (Backbone, error)
