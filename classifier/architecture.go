package classifier

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Architecture 部署中支持的模型，封闭枚举
type Architecture int

const (
	Xception Architecture = iota
	EfficientNetB3
	CNN1M
	CNN4M7
)

// Family 模型家族
type Family int

const (
	// FamilyTransfer 预训练主干 + 全连接分类头
	FamilyTransfer Family = iota
	// FamilyCNN 完整序列化的普通卷积网络
	FamilyCNN
)

var architectureKeys = map[Architecture]string{
	Xception:       "xception",
	EfficientNetB3: "efficientnet_b3",
	CNN1M:          "cnn_1m",
	CNN4M7:         "cnn_4m7",
}

func (a Architecture) String() string {
	if k, ok := architectureKeys[a]; ok {
		return k
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}

// Family 返回模型所属家族
func (a Architecture) Family() Family {
	if a == Xception || a == EfficientNetB3 {
		return FamilyTransfer
	}
	return FamilyCNN
}

// Architectures 按固定顺序列出全部模型
func Architectures() []Architecture {
	return []Architecture{Xception, EfficientNetB3, CNN1M, CNN4M7}
}

// ParseArchitecture 解析模型名，忽略大小写与连字符
func ParseArchitecture(s string) (Architecture, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, a := range Architectures() {
		if architectureKeys[a] == key {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown model %q", s)
}

// Spec 模型与其输入尺寸、权重文件的固定配对
type Spec struct {
	Architecture Architecture `json:"-"`
	Key          string       `json:"key"`
	DisplayName  string       `json:"display_name"`
	InputSize    int          `json:"input_size"`
	WeightsPath  string       `json:"-"`
	// ArchitecturePath 仅普通 CNN：层结构描述文件
	ArchitecturePath string `json:"-"`
	// BackbonePath/BackboneGradPath 仅迁移学习：主干前向图与反向 (VJP) 图
	BackbonePath     string `json:"-"`
	BackboneGradPath string `json:"-"`
	FeatureSize      int    `json:"feature_size,omitempty"`
}

// DeploymentTable 本部署的固定模型表
func DeploymentTable(modelsDir string) map[Architecture]Spec {
	p := func(name string) string { return filepath.Join(modelsDir, name) }
	return map[Architecture]Spec{
		Xception: {
			Architecture:     Xception,
			Key:              Xception.String(),
			DisplayName:      "Transfer Learning - Xception",
			InputSize:        299,
			WeightsPath:      p("xception_model.weights.safetensors"),
			BackbonePath:     p("xception_backbone.onnx"),
			BackboneGradPath: p("xception_backbone_grad.onnx"),
			FeatureSize:      2048,
		},
		EfficientNetB3: {
			Architecture:     EfficientNetB3,
			Key:              EfficientNetB3.String(),
			DisplayName:      "Transfer Learning - EfficientNetB3",
			InputSize:        300,
			WeightsPath:      p("efficientnet_model.weights.safetensors"),
			BackbonePath:     p("efficientnetb3_backbone.onnx"),
			BackboneGradPath: p("efficientnetb3_backbone_grad.onnx"),
			FeatureSize:      1536,
		},
		CNN1M: {
			Architecture:     CNN1M,
			Key:              CNN1M.String(),
			DisplayName:      "CNN 1M-Parameters",
			InputSize:        224,
			WeightsPath:      p("cnn_model_1M0.safetensors"),
			ArchitecturePath: p("cnn_model_1M0.yaml"),
		},
		CNN4M7: {
			Architecture:     CNN4M7,
			Key:              CNN4M7.String(),
			DisplayName:      "CNN 4M7-Parameters",
			InputSize:        224,
			WeightsPath:      p("cnn_model_4M7.safetensors"),
			ArchitecturePath: p("cnn_model_4M7.yaml"),
		},
	}
}
