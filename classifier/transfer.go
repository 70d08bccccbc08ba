package classifier

import (
	"context"
	"fmt"

	"github.com/brauliopf/brain-tumor-classification/nn"
	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// TransferModel 主干 + Go 实现的分类头
type TransferModel struct {
	spec     Spec
	backbone Backbone
	head     *nn.Sequential
}

// NewTransferModel 组合已加载的主干与分类头
func NewTransferModel(spec Spec, backbone Backbone, head *nn.Sequential) (*TransferModel, error) {
	if backbone.FeatureSize() != head.InputShape()[0] {
		return nil, fmt.Errorf("backbone emits %d features, head expects %d", backbone.FeatureSize(), head.InputShape()[0])
	}
	return &TransferModel{spec: spec, backbone: backbone, head: head}, nil
}

func (m *TransferModel) Architecture() Architecture { return m.spec.Architecture }
func (m *TransferModel) InputSize() int             { return m.spec.InputSize }
func (m *TransferModel) NumClasses() int            { return NumClasses }

func (m *TransferModel) Predict(ctx context.Context, x *tensor.Tensor) ([]float32, error) {
	if err := checkInput(m.spec.InputSize, x); err != nil {
		return nil, err
	}
	features, err := m.backbone.Features(ctx, x)
	if err != nil {
		return nil, err
	}
	out, err := m.head.Forward(features)
	if err != nil {
		return nil, fmt.Errorf("head forward: %w", err)
	}
	return out.Data, nil
}

func (m *TransferModel) Gradient(ctx context.Context, x *tensor.Tensor, classIndex int) (*tensor.Tensor, error) {
	if err := checkInput(m.spec.InputSize, x); err != nil {
		return nil, err
	}
	if err := CheckClassIndex(m, classIndex); err != nil {
		return nil, err
	}
	features, err := m.backbone.Features(ctx, x)
	if err != nil {
		return nil, err
	}
	_, featureGrad, err := m.head.InputGradient(features, oneHot(classIndex, NumClasses))
	if err != nil {
		return nil, fmt.Errorf("head backward: %w", err)
	}
	return m.backbone.InputGradient(ctx, x, featureGrad)
}

func (m *TransferModel) Close() error {
	return m.backbone.Close()
}
