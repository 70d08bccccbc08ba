package classifier

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/brauliopf/brain-tumor-classification/nn"
	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// Pair 可写作单个整数或 [h, w]
type Pair [2]int

func (p *Pair) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var n int
		if err := value.Decode(&n); err != nil {
			return err
		}
		*p = Pair{n, n}
		return nil
	}
	var list []int
	if err := value.Decode(&list); err != nil {
		return err
	}
	if len(list) != 2 {
		return fmt.Errorf("line %d: expected 2 values, got %d", value.Line, len(list))
	}
	*p = Pair{list[0], list[1]}
	return nil
}

// LayerDoc 结构描述中的单层
type LayerDoc struct {
	Type       string  `yaml:"type"`
	Name       string  `yaml:"name"`
	Filters    int     `yaml:"filters,omitempty"`
	KernelSize Pair    `yaml:"kernel_size,omitempty"`
	Strides    int     `yaml:"strides,omitempty"`
	Padding    string  `yaml:"padding,omitempty"`
	PoolSize   Pair    `yaml:"pool_size,omitempty"`
	Units      int     `yaml:"units,omitempty"`
	Rate       float64 `yaml:"rate,omitempty"`
	Epsilon    float64 `yaml:"epsilon,omitempty"`
	Activation string  `yaml:"activation,omitempty"`
}

// ArchitectureDoc 普通 CNN 的层结构描述，权重按 "<层名>/<参数名>" 存放在 safetensors 中
type ArchitectureDoc struct {
	Name       string     `yaml:"name"`
	InputShape []int      `yaml:"input_shape"`
	Layers     []LayerDoc `yaml:"layers"`
}

// LoadArchitecture 读取 YAML 结构描述
func LoadArchitecture(path string) (*ArchitectureDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc ArchitectureDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse architecture: %w", err)
	}
	if len(doc.InputShape) != 3 {
		return nil, fmt.Errorf("architecture %s: input_shape must be [h, w, c], got %v", doc.Name, doc.InputShape)
	}
	if len(doc.Layers) == 0 {
		return nil, fmt.Errorf("architecture %s: no layers", doc.Name)
	}
	return &doc, nil
}

// Build 根据结构描述和权重构建可微分网络
func (doc *ArchitectureDoc) Build(w *Weights) (*nn.Sequential, error) {
	shape := append([]int{1}, doc.InputShape...)
	layers := make([]nn.Layer, 0, len(doc.Layers))

	for i, ld := range doc.Layers {
		name := ld.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", ld.Type, i)
		}
		act, err := nn.ParseActivation(ld.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		padding, err := nn.ParsePadding(ld.Padding)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}

		var layer nn.Layer
		switch ld.Type {
		case "conv2d":
			kh, kw, cin := ld.KernelSize[0], ld.KernelSize[1], shape[len(shape)-1]
			kernel, err := w.Param(name+"/kernel", kh, kw, cin, ld.Filters)
			if err != nil {
				return nil, err
			}
			bias, err := w.Param(name+"/bias", ld.Filters)
			if err != nil {
				return nil, err
			}
			layer, err = nn.NewConv2D(name, kernel, bias, kh, kw, cin, ld.Filters, ld.Strides, padding, act)
			if err != nil {
				return nil, err
			}
		case "max_pooling2d":
			layer = nn.NewMaxPool2D(name, ld.PoolSize[0], ld.PoolSize[1], ld.Strides, padding)
		case "batch_normalization":
			c := shape[len(shape)-1]
			params := make([][]float32, 4)
			for j, p := range []string{"gamma", "beta", "moving_mean", "moving_variance"} {
				if params[j], err = w.Param(name+"/"+p, c); err != nil {
					return nil, err
				}
			}
			eps := ld.Epsilon
			if eps == 0 {
				eps = nn.DefaultBatchNormEpsilon
			}
			layer, err = nn.NewBatchNorm(name, params[0], params[1], params[2], params[3], eps)
			if err != nil {
				return nil, err
			}
		case "flatten":
			layer = nn.NewFlatten(name)
		case "dropout":
			layer = nn.NewDropout(name, ld.Rate)
		case "activation":
			layer = nn.NewActivation(name, act)
		case "dense":
			if len(shape) != 2 {
				return nil, fmt.Errorf("layer %s: dense expects flattened input, got %v", name, shape)
			}
			kernel, err := w.Param(name+"/kernel", shape[1], ld.Units)
			if err != nil {
				return nil, err
			}
			bias, err := w.Param(name+"/bias", ld.Units)
			if err != nil {
				return nil, err
			}
			layer, err = nn.NewDense(name, kernel, bias, shape[1], ld.Units, act)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("layer %s: unsupported type %q", name, ld.Type)
		}

		if shape, err = layer.OutputShape(shape); err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		layers = append(layers, layer)
	}

	if len(shape) != 2 || shape[1] != NumClasses {
		return nil, fmt.Errorf("architecture %s: output shape %v, want [1 %d]", doc.Name, shape, NumClasses)
	}
	return nn.NewSequential(doc.InputShape, layers...)
}

// CNNModel 完全由 Go 实现前向与反向的普通卷积网络
type CNNModel struct {
	spec Spec
	net  *nn.Sequential
}

// NewCNNModel 输入尺寸必须与表项一致
func NewCNNModel(spec Spec, net *nn.Sequential) (*CNNModel, error) {
	in := net.InputShape()
	if len(in) != 3 || in[0] != spec.InputSize || in[1] != spec.InputSize || in[2] != 3 {
		return nil, fmt.Errorf("network input %v does not match input size %d", in, spec.InputSize)
	}
	return &CNNModel{spec: spec, net: net}, nil
}

func (m *CNNModel) Architecture() Architecture { return m.spec.Architecture }
func (m *CNNModel) InputSize() int             { return m.spec.InputSize }
func (m *CNNModel) NumClasses() int            { return NumClasses }

func (m *CNNModel) Predict(ctx context.Context, x *tensor.Tensor) ([]float32, error) {
	if err := checkInput(m.spec.InputSize, x); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := m.net.Forward(x)
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (m *CNNModel) Gradient(ctx context.Context, x *tensor.Tensor, classIndex int) (*tensor.Tensor, error) {
	if err := checkInput(m.spec.InputSize, x); err != nil {
		return nil, err
	}
	if err := CheckClassIndex(m, classIndex); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, grad, err := m.net.InputGradient(x, oneHot(classIndex, NumClasses))
	if err != nil {
		return nil, err
	}
	return grad, nil
}

func (m *CNNModel) Close() error { return nil }
