package classifier

import (
	"context"
	"slices"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// Handle 统一的推理接口，构建完成后只读
type Handle interface {
	Architecture() Architecture
	InputSize() int
	NumClasses() int
	// Predict 返回长度为 NumClasses 的概率向量
	Predict(ctx context.Context, x *tensor.Tensor) ([]float32, error)
	// Gradient 返回 ∂predictions[classIndex]/∂x，形状与 x 一致
	Gradient(ctx context.Context, x *tensor.Tensor, classIndex int) (*tensor.Tensor, error)
	Close() error
}

// InputShape 模型期望的图像张量形状 [1,S,S,3]
func InputShape(size int) []int {
	return []int{1, size, size, 3}
}

func checkInput(size int, x *tensor.Tensor) error {
	want := InputShape(size)
	if x == nil || !slices.Equal(x.Shape, want) {
		var got []int
		if x != nil {
			got = x.Shape
		}
		return &ShapeMismatchError{Want: want, Got: got}
	}
	return nil
}

// CheckClassIndex 校验类别下标
func CheckClassIndex(h Handle, classIndex int) error {
	if classIndex < 0 || classIndex >= h.NumClasses() {
		return &IndexError{Index: classIndex, NumClasses: h.NumClasses()}
	}
	return nil
}

// oneHot 目标类别输出对应的上游梯度
func oneHot(classIndex, n int) *tensor.Tensor {
	t := tensor.New(1, n)
	t.Data[classIndex] = 1
	return t
}
