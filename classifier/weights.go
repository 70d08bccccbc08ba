package classifier

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"sort"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// maxHeaderSize 头部上限，防止损坏文件导致超大分配
const maxHeaderSize = 100 << 20

type tensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Weights safetensors 文件中的命名张量
type Weights struct {
	Tensors  map[string]*tensor.Tensor
	Metadata map[string]string
}

// LoadTensors 读取 safetensors 格式的权重文件，所有数据转换为 float32
func LoadTensors(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTensors(data)
}

// ParseTensors 解析 safetensors 字节：8 字节小端头长度 + JSON 头 + 数据区
func ParseTensors(data []byte) (*Weights, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("safetensors: file too short")
	}
	n := binary.LittleEndian.Uint64(data[:8])
	if n > maxHeaderSize || int(n) > len(data)-8 {
		return nil, fmt.Errorf("safetensors: invalid header size %d", n)
	}
	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+n], &header); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}
	buf := data[8+n:]

	w := &Weights{Tensors: make(map[string]*tensor.Tensor, len(header))}
	for name, raw := range header {
		if name == "__metadata__" {
			if err := json.Unmarshal(raw, &w.Metadata); err != nil {
				return nil, fmt.Errorf("safetensors: parse metadata: %w", err)
			}
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %s: %w", name, err)
		}
		t, err := decodeTensor(info, buf)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %s: %w", name, err)
		}
		w.Tensors[name] = t
	}
	return w, nil
}

func decodeTensor(info tensorInfo, buf []byte) (*tensor.Tensor, error) {
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > len(buf) {
		return nil, fmt.Errorf("data offsets %v outside buffer of %d bytes", info.DataOffsets, len(buf))
	}
	raw := buf[start:end]
	count := tensor.Volume(info.Shape)

	var width int
	switch info.DType {
	case "F32":
		width = 4
	case "F64":
		width = 8
	case "F16", "BF16":
		width = 2
	default:
		return nil, fmt.Errorf("unsupported dtype %s", info.DType)
	}
	if len(raw) != count*width {
		return nil, fmt.Errorf("%s shape %v needs %d bytes, got %d", info.DType, info.Shape, count*width, len(raw))
	}

	out := make([]float32, count)
	switch info.DType {
	case "F32":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "F64":
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:])))
		}
	case "F16":
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
	case "BF16":
		copy(out, bfloat16.DecodeFloat32(raw))
	}
	return tensor.FromSlice(out, info.Shape...)
}

// Names 按字典序返回张量名
func (w *Weights) Names() []string {
	names := make([]string, 0, len(w.Tensors))
	for k := range w.Tensors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Param 取出指定名字和形状的参数
func (w *Weights) Param(name string, shape ...int) ([]float32, error) {
	t, ok := w.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("missing weight %q", name)
	}
	if !slices.Equal(t.Shape, shape) {
		return nil, fmt.Errorf("weight %q has shape %v, want %v", name, t.Shape, shape)
	}
	return t.Data, nil
}
