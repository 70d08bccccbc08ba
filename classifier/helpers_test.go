package classifier

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// encodeSafetensors 以 F32 写出张量
func encodeSafetensors(t *testing.T, tensors map[string]*tensor.Tensor, metadata map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(tensors))
	for k := range tensors {
		names = append(names, k)
	}
	sort.Strings(names)

	header := map[string]any{}
	if metadata != nil {
		header["__metadata__"] = metadata
	}
	var data []byte
	for _, name := range names {
		tt := tensors[name]
		start := len(data)
		for _, v := range tt.Data {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        tt.Shape,
			"data_offsets": []int{start, len(data)},
		}
	}
	hdr, err := json.Marshal(header)
	require.NoError(t, err)

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(hdr)))
	out = append(out, hdr...)
	return append(out, data...)
}

func writeSafetensors(t *testing.T, path string, tensors map[string]*tensor.Tensor) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, encodeSafetensors(t, tensors, nil), 0o644))
}

func randomTensor(r *rand.Rand, scale float32, shape ...int) *tensor.Tensor {
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = (r.Float32()*2 - 1) * scale
	}
	return x
}

const tinyCNN = `name: tiny
input_shape: [8, 8, 3]
layers:
  - {type: conv2d, name: conv2d, filters: 2, kernel_size: 3, padding: same, activation: relu}
  - {type: batch_normalization, name: batch_normalization}
  - {type: max_pooling2d, name: max_pooling2d, pool_size: [2, 2]}
  - {type: flatten, name: flatten}
  - {type: dropout, name: dropout, rate: 0.3}
  - {type: dense, name: dense, units: 4, activation: softmax}
`

// writeTinyCNN 在临时目录写出一个 8x8 输入的小 CNN，返回表项
func writeTinyCNN(t *testing.T, r *rand.Rand) Spec {
	t.Helper()
	dir := t.TempDir()
	spec := Spec{
		Architecture:     CNN1M,
		Key:              CNN1M.String(),
		InputSize:        8,
		WeightsPath:      filepath.Join(dir, "tiny.safetensors"),
		ArchitecturePath: filepath.Join(dir, "tiny.yaml"),
	}
	require.NoError(t, os.WriteFile(spec.ArchitecturePath, []byte(tinyCNN), 0o644))

	ones := tensor.New(2)
	ones.Data[0], ones.Data[1] = 1, 1
	writeSafetensors(t, spec.WeightsPath, map[string]*tensor.Tensor{
		"conv2d/kernel":                       randomTensor(r, 0.5, 3, 3, 3, 2),
		"conv2d/bias":                         randomTensor(r, 0.1, 2),
		"batch_normalization/gamma":           ones,
		"batch_normalization/beta":            tensor.New(2),
		"batch_normalization/moving_mean":     tensor.New(2),
		"batch_normalization/moving_variance": ones,
		"dense/kernel":                        randomTensor(r, 0.5, 32, 4),
		"dense/bias":                          randomTensor(r, 0.1, 4),
	})
	return spec
}

// linearBackbone features = W·vec(x)，梯度为 Wᵀ·g
type linearBackbone struct {
	features int
	weights  []float32
	closed   atomic.Int32
}

func newLinearBackbone(r *rand.Rand, inputLen, features int) *linearBackbone {
	return &linearBackbone{features: features, weights: randomTensor(r, 0.2, features, inputLen).Data}
}

func (b *linearBackbone) FeatureSize() int { return b.features }

func (b *linearBackbone) Features(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(1, b.features)
	n := len(x.Data)
	for f := 0; f < b.features; f++ {
		var s float32
		for i, v := range x.Data {
			s += b.weights[f*n+i] * v
		}
		out.Data[f] = s
	}
	return out, nil
}

func (b *linearBackbone) InputGradient(_ context.Context, x, g *tensor.Tensor) (*tensor.Tensor, error) {
	dx := tensor.New(x.Shape...)
	n := len(x.Data)
	for f := 0; f < b.features; f++ {
		for i := range dx.Data {
			dx.Data[i] += b.weights[f*n+i] * g.Data[f]
		}
	}
	return dx, nil
}

func (b *linearBackbone) Close() error {
	b.closed.Add(1)
	return nil
}

func writeHead(t *testing.T, r *rand.Rand, path string, features int) {
	t.Helper()
	writeSafetensors(t, path, map[string]*tensor.Tensor{
		"dense/kernel":   randomTensor(r, 0.3, features, HeadHiddenUnits),
		"dense/bias":     randomTensor(r, 0.1, HeadHiddenUnits),
		"dense_1/kernel": randomTensor(r, 0.3, HeadHiddenUnits, NumClasses),
		"dense_1/bias":   randomTensor(r, 0.1, NumClasses),
	})
}
