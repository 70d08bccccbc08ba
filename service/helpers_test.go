package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brauliopf/brain-tumor-classification/classifier"
	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// fakeHandle 固定概率，梯度为 x-0.5
type fakeHandle struct {
	arch  classifier.Architecture
	size  int
	probs []float32
}

func (h *fakeHandle) Architecture() classifier.Architecture { return h.arch }
func (h *fakeHandle) InputSize() int                        { return h.size }
func (h *fakeHandle) NumClasses() int                       { return classifier.NumClasses }
func (h *fakeHandle) Close() error                          { return nil }

func (h *fakeHandle) Predict(_ context.Context, x *tensor.Tensor) ([]float32, error) {
	want := classifier.InputShape(h.size)
	if len(x.Shape) != 4 || x.Shape[1] != want[1] || x.Shape[2] != want[2] {
		return nil, &classifier.ShapeMismatchError{Want: want, Got: x.Shape}
	}
	return append([]float32(nil), h.probs...), nil
}

func (h *fakeHandle) Gradient(_ context.Context, x *tensor.Tensor, classIndex int) (*tensor.Tensor, error) {
	if err := classifier.CheckClassIndex(h, classIndex); err != nil {
		return nil, err
	}
	g := tensor.New(x.Shape...)
	for i, v := range x.Data {
		g.Data[i] = v - 0.5
	}
	return g, nil
}

type providerFunc func(ctx context.Context, arch classifier.Architecture) (classifier.Handle, error)

func (f providerFunc) Get(ctx context.Context, arch classifier.Architecture) (classifier.Handle, error) {
	return f(ctx, arch)
}

// recordingMirror 记录写入的对象
type recordingMirror struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (m *recordingMirror) Put(_ context.Context, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[name] = append([]byte(nil), data...)
	return nil
}

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// scanImage 中心亮、边缘暗的灰度图
func scanImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-w/2, y-h/2
			v := uint8(max(0, 255-4*(dx*dx+dy*dy)/max(1, w/4)))
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

// peakGradient 中心单峰、其余为 0 的梯度
func peakGradient(size int) *tensor.Tensor {
	g := tensor.New(1, size, size, 3)
	c := size / 2
	g.Data[g.Index4(0, c, c, 1)] = -1
	return g
}
