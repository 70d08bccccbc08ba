package classifier

import (
	"fmt"
	"math"

	"github.com/brauliopf/brain-tumor-classification/model"
)

// NumClasses 输出类别数
const NumClasses = 4

// Labels 与模型输出顺序一致的类别名
var Labels = [NumClasses]string{"Glioma", "Meningioma", "No tumor", "Pituitary"}

// Argmax 由概率向量得到唯一的预测结果
func Argmax(probs []float32) (model.Prediction, error) {
	if len(probs) != NumClasses {
		return model.Prediction{}, fmt.Errorf("expected %d probabilities, got %d", NumClasses, len(probs))
	}
	best := 0
	for i, p := range probs {
		if math.IsNaN(float64(p)) {
			return model.Prediction{}, fmt.Errorf("probability %d is NaN", i)
		}
		if p > probs[best] {
			best = i
		}
	}
	return model.Prediction{
		ClassIndex: best,
		Label:      Labels[best],
		Confidence: float64(probs[best]),
	}, nil
}
