package classifier

import (
	"context"
	"fmt"
	"os"
)

// Options 模型加载选项
type Options struct {
	// NewBackbone 为空时使用 onnxruntime 主干
	NewBackbone BackboneFactory
}

// Load 按模型家族构建 Handle；任何失败都返回 *ModelLoadError
func Load(ctx context.Context, spec Spec, opts Options) (Handle, error) {
	if spec.InputSize <= 0 {
		return nil, loadError(spec.Architecture, spec.WeightsPath, fmt.Errorf("invalid input size %d", spec.InputSize))
	}
	switch spec.Architecture.Family() {
	case FamilyTransfer:
		return loadTransfer(ctx, spec, opts)
	case FamilyCNN:
		return loadCNN(spec)
	}
	return nil, loadError(spec.Architecture, spec.WeightsPath, fmt.Errorf("unsupported family"))
}

func requireFiles(spec Spec, paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return loadError(spec.Architecture, p, err)
		}
	}
	return nil
}

func loadTransfer(ctx context.Context, spec Spec, opts Options) (Handle, error) {
	newBackbone := opts.NewBackbone
	if newBackbone == nil {
		if err := requireFiles(spec, spec.BackbonePath, spec.BackboneGradPath); err != nil {
			return nil, err
		}
		newBackbone = NewONNXBackbone
	}
	if err := requireFiles(spec, spec.WeightsPath); err != nil {
		return nil, err
	}

	w, err := LoadTensors(spec.WeightsPath)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.WeightsPath, err)
	}
	head, err := NewTransferHead(w, spec.FeatureSize)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.WeightsPath, err)
	}

	backbone, err := newBackbone(ctx, spec)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.BackbonePath, err)
	}
	m, err := NewTransferModel(spec, backbone, head)
	if err != nil {
		backbone.Close()
		return nil, loadError(spec.Architecture, spec.BackbonePath, err)
	}
	return m, nil
}

func loadCNN(spec Spec) (Handle, error) {
	if err := requireFiles(spec, spec.ArchitecturePath, spec.WeightsPath); err != nil {
		return nil, err
	}
	doc, err := LoadArchitecture(spec.ArchitecturePath)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.ArchitecturePath, err)
	}
	w, err := LoadTensors(spec.WeightsPath)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.WeightsPath, err)
	}
	net, err := doc.Build(w)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.WeightsPath, err)
	}
	m, err := NewCNNModel(spec, net)
	if err != nil {
		return nil, loadError(spec.Architecture, spec.ArchitecturePath, err)
	}
	return m, nil
}
