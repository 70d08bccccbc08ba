package classifier

import (
	"fmt"

	"github.com/brauliopf/brain-tumor-classification/nn"
)

// 迁移学习分类头的固定结构
const (
	HeadHiddenUnits  = 128
	HeadDropoutInput = 0.3
	HeadDropoutDense = 0.25
)

// NewTransferHead flatten → dropout(0.3) → dense(128, relu) → dropout(0.25) → dense(4, softmax)
func NewTransferHead(w *Weights, featureSize int) (*nn.Sequential, error) {
	k1, err := w.Param("dense/kernel", featureSize, HeadHiddenUnits)
	if err != nil {
		return nil, err
	}
	b1, err := w.Param("dense/bias", HeadHiddenUnits)
	if err != nil {
		return nil, err
	}
	k2, err := w.Param("dense_1/kernel", HeadHiddenUnits, NumClasses)
	if err != nil {
		return nil, err
	}
	b2, err := w.Param("dense_1/bias", NumClasses)
	if err != nil {
		return nil, err
	}

	hidden, err := nn.NewDense("dense", k1, b1, featureSize, HeadHiddenUnits, nn.ReLU)
	if err != nil {
		return nil, err
	}
	out, err := nn.NewDense("dense_1", k2, b2, HeadHiddenUnits, NumClasses, nn.Softmax)
	if err != nil {
		return nil, err
	}

	head, err := nn.NewSequential([]int{featureSize},
		nn.NewFlatten("flatten"),
		nn.NewDropout("dropout", HeadDropoutInput),
		hidden,
		nn.NewDropout("dropout_1", HeadDropoutDense),
		out,
	)
	if err != nil {
		return nil, fmt.Errorf("build head: %w", err)
	}
	return head, nil
}
