package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad 权重缺失或与拓扑不兼容
	ErrModelLoad = errors.New("model load failed")
	// ErrShapeMismatch 输入张量尺寸与模型期望不符
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrClassIndex 目标类别下标越界
	ErrClassIndex = errors.New("class index out of range")
)

// ModelLoadError 模型构建失败，不会返回部分构建的模型
type ModelLoadError struct {
	Architecture Architecture
	Path         string
	Err          error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load %s model from %s: %v", e.Architecture, e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

// ShapeMismatchError 调用方把错误尺寸的张量交给了模型
type ShapeMismatchError struct {
	Want []int
	Got  []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("input tensor shape %v does not match model input %v", e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool { return target == ErrShapeMismatch }

// IndexError 类别下标不在 [0, NumClasses) 内
type IndexError struct {
	Index      int
	NumClasses int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("class index %d out of range [0,%d)", e.Index, e.NumClasses)
}

func (e *IndexError) Is(target error) bool { return target == ErrClassIndex }

func loadError(arch Architecture, path string, err error) error {
	var le *ModelLoadError
	if errors.As(err, &le) {
		return err
	}
	return &ModelLoadError{Architecture: arch, Path: path, Err: err}
}
