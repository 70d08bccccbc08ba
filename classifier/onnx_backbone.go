package classifier

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// 主干 ONNX 图的输入输出名
const (
	BackboneInputName     = "input"
	BackboneFeaturesName  = "features"
	BackboneGradInputName = "grad_features"
	BackboneGradOutput    = "grad_input"
)

var (
	ortMu       sync.Mutex
	ortLibPath  string
	ortRefCount int
)

// SetONNXRuntimeLibrary 指定 onnxruntime 共享库路径，需在首次加载模型前调用
func SetONNXRuntimeLibrary(path string) {
	ortMu.Lock()
	defer ortMu.Unlock()
	ortLibPath = path
}

func acquireRuntime() error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortRefCount == 0 {
		if ortLibPath != "" {
			ort.SetSharedLibraryPath(ortLibPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	ortRefCount++
	return nil
}

func releaseRuntime() {
	ortMu.Lock()
	defer ortMu.Unlock()
	ortRefCount--
	if ortRefCount == 0 {
		ort.DestroyEnvironment()
	}
}

// ONNXBackbone 基于 onnxruntime 的主干：一个前向图，一个导出的 VJP 图。
// 会话绑定了固定的输入输出张量，因此调用通过 mu 串行化。
type ONNXBackbone struct {
	mu          sync.Mutex
	featureSize int
	closed      bool

	forward      *ort.AdvancedSession
	forwardIn    *ort.Tensor[float32]
	forwardOut   *ort.Tensor[float32]
	backward     *ort.AdvancedSession
	backwardIn   *ort.Tensor[float32]
	backwardGrad *ort.Tensor[float32]
	backwardOut  *ort.Tensor[float32]
}

// NewONNXBackbone 满足 BackboneFactory
func NewONNXBackbone(_ context.Context, spec Spec) (Backbone, error) {
	if err := acquireRuntime(); err != nil {
		return nil, err
	}
	b := &ONNXBackbone{featureSize: spec.FeatureSize}
	if err := b.init(spec); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *ONNXBackbone) init(spec Spec) error {
	s := int64(spec.InputSize)
	inShape := ort.NewShape(1, s, s, 3)
	featShape := ort.NewShape(1, int64(spec.FeatureSize))

	var err error
	if b.forwardIn, err = ort.NewEmptyTensor[float32](inShape); err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	if b.forwardOut, err = ort.NewEmptyTensor[float32](featShape); err != nil {
		return fmt.Errorf("failed to create feature tensor: %w", err)
	}
	b.forward, err = ort.NewAdvancedSession(spec.BackbonePath,
		[]string{BackboneInputName}, []string{BackboneFeaturesName},
		[]ort.ArbitraryTensor{b.forwardIn}, []ort.ArbitraryTensor{b.forwardOut},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create backbone session: %w", err)
	}

	if b.backwardIn, err = ort.NewEmptyTensor[float32](inShape); err != nil {
		return fmt.Errorf("failed to create gradient input tensor: %w", err)
	}
	if b.backwardGrad, err = ort.NewEmptyTensor[float32](featShape); err != nil {
		return fmt.Errorf("failed to create feature gradient tensor: %w", err)
	}
	if b.backwardOut, err = ort.NewEmptyTensor[float32](inShape); err != nil {
		return fmt.Errorf("failed to create input gradient tensor: %w", err)
	}
	b.backward, err = ort.NewAdvancedSession(spec.BackboneGradPath,
		[]string{BackboneInputName, BackboneGradInputName}, []string{BackboneGradOutput},
		[]ort.ArbitraryTensor{b.backwardIn, b.backwardGrad}, []ort.ArbitraryTensor{b.backwardOut},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create backbone gradient session: %w", err)
	}
	return nil
}

func (b *ONNXBackbone) FeatureSize() int { return b.featureSize }

func (b *ONNXBackbone) Features(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.forwardIn.GetData(), x.Data)
	if err := b.forward.Run(); err != nil {
		return nil, fmt.Errorf("backbone inference failed: %w", err)
	}
	out := make([]float32, b.featureSize)
	copy(out, b.forwardOut.GetData())
	return tensor.FromSlice(out, 1, b.featureSize)
}

func (b *ONNXBackbone) InputGradient(ctx context.Context, x, featureGrad *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	copy(b.backwardIn.GetData(), x.Data)
	copy(b.backwardGrad.GetData(), featureGrad.Data)
	if err := b.backward.Run(); err != nil {
		return nil, fmt.Errorf("backbone gradient failed: %w", err)
	}
	out := make([]float32, len(x.Data))
	copy(out, b.backwardOut.GetData())
	return tensor.FromSlice(out, x.Shape...)
}

func (b *ONNXBackbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.forward != nil {
		b.forward.Destroy()
	}
	if b.backward != nil {
		b.backward.Destroy()
	}
	for _, t := range []*ort.Tensor[float32]{b.forwardIn, b.forwardOut, b.backwardIn, b.backwardGrad, b.backwardOut} {
		if t != nil {
			t.Destroy()
		}
	}
	releaseRuntime()
	return nil
}
