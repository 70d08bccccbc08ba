package service

import (
	"errors"
	"fmt"
	"image"
	"math"
	"slices"
	"strings"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/brauliopf/brain-tumor-classification/config"
	"github.com/brauliopf/brain-tumor-classification/model"
	"github.com/brauliopf/brain-tumor-classification/tensor"
)

const (
	DefaultPercentile    = 80.0
	DefaultBlurKernel    = 11
	DefaultHeatmapWeight = 0.7
	DefaultImageWeight   = 0.3
	DefaultMaskOffset    = 10.0
	DefaultMinMaskRadius = 1.0
)

var colorMaps = map[string]gocv.ColormapTypes{
	"jet":     gocv.ColormapJet,
	"hot":     gocv.ColormapHot,
	"bone":    gocv.ColormapBone,
	"rainbow": gocv.ColormapRainbow,
	"parula":  gocv.ColormapParula,
	"ocean":   gocv.ColormapOcean,
}

// CompositorOptions 显著图流水线参数
type CompositorOptions struct {
	Percentile    float64
	BlurKernel    int
	HeatmapWeight float64
	ImageWeight   float64
	MaskOffset    float64
	MinMaskRadius float64
	ColorMap      gocv.ColormapTypes
}

func DefaultCompositorOptions() CompositorOptions {
	return CompositorOptions{
		Percentile:    DefaultPercentile,
		BlurKernel:    DefaultBlurKernel,
		HeatmapWeight: DefaultHeatmapWeight,
		ImageWeight:   DefaultImageWeight,
		MaskOffset:    DefaultMaskOffset,
		MinMaskRadius: DefaultMinMaskRadius,
		ColorMap:      gocv.ColormapJet,
	}
}

// CompositorOptionsFromConfig 从配置构造参数
func CompositorOptionsFromConfig(cfg *config.SaliencyConfig) (CompositorOptions, error) {
	cm, ok := colorMaps[strings.ToLower(cfg.ColorMap)]
	if !ok {
		return CompositorOptions{}, fmt.Errorf("unknown colormap %q", cfg.ColorMap)
	}
	opts := CompositorOptions{
		Percentile:    cfg.Percentile,
		BlurKernel:    cfg.BlurKernel,
		HeatmapWeight: cfg.HeatmapWeight,
		ImageWeight:   cfg.ImageWeight,
		MaskOffset:    cfg.MaskOffset,
		MinMaskRadius: cfg.MinMaskRadius,
		ColorMap:      cm,
	}
	return opts, opts.Validate()
}

func (o CompositorOptions) Validate() error {
	if o.Percentile < 0 || o.Percentile > 100 {
		return fmt.Errorf("percentile must be within [0,100], got %v", o.Percentile)
	}
	if o.BlurKernel < 1 || o.BlurKernel%2 == 0 {
		return fmt.Errorf("blur kernel must be a positive odd number, got %d", o.BlurKernel)
	}
	if o.HeatmapWeight < 0 || o.ImageWeight < 0 {
		return errors.New("blend weights must be non-negative")
	}
	if o.MinMaskRadius < 1 {
		return fmt.Errorf("min mask radius must be >= 1, got %v", o.MinMaskRadius)
	}
	return nil
}

// SaliencyCompositor 把梯度张量转换为叠加在原图上的热力图
type SaliencyCompositor struct {
	opts CompositorOptions
}

func NewSaliencyCompositor(opts CompositorOptions) *SaliencyCompositor {
	return &SaliencyCompositor{opts: opts}
}

func (sc *SaliencyCompositor) Options() CompositorOptions {
	return sc.opts
}

// ReduceChannels 取绝对值后按通道求最大，得到 HxW 的 CV32F 矩阵
func ReduceChannels(grad *tensor.Tensor) (gocv.Mat, error) {
	n, h, w, c, err := grad.NHWC()
	if err != nil {
		return gocv.Mat{}, err
	}
	if n != 1 || h == 0 || w == 0 || c == 0 {
		return gocv.Mat{}, fmt.Errorf("gradient must have shape [1,H,W,C], got %v", grad.Shape)
	}

	reduced := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32F)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := grad.Index4(0, y, x, 0)
			var m float32
			for k := 0; k < c; k++ {
				v := grad.Data[base+k]
				if v < 0 {
					v = -v
				}
				if v > m {
					m = v
				}
			}
			reduced.SetFloatAt(y, x, m)
		}
	}
	return reduced, nil
}

// Heat 计算平滑后的显著图（CV32F），调用方负责 Close
func (sc *SaliencyCompositor) Heat(grad *tensor.Tensor, size image.Point) (gocv.Mat, model.SaliencyStats, error) {
	var stats model.SaliencyStats
	if size.X <= 0 || size.Y <= 0 {
		return gocv.Mat{}, stats, fmt.Errorf("invalid target size %v", size)
	}

	reduced, err := ReduceChannels(grad)
	if err != nil {
		return gocv.Mat{}, stats, err
	}
	defer reduced.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(reduced, &resized, size, 0, 0, gocv.InterpolationLinear)

	data, err := resized.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, stats, fmt.Errorf("read resized gradient: %w", err)
	}

	mask := NewBrainMask(size.X, size.Y, sc.opts.MaskOffset, sc.opts.MinMaskRadius)
	stats.MaskRadius = mask.Radius
	stats.MaskPixels = mask.Count()

	in := mask.Apply(data)
	lo, hi := minMax(in)
	stats.Min, stats.Max = float64(lo), float64(hi)

	if hi > lo {
		scale := hi - lo
		for i, v := range in {
			in[i] = (v - lo) / scale
		}
	} else {
		// 退化：不做归一化，由调用方记录告警
		stats.Degenerate = true
	}

	threshold := Percentile(in, sc.opts.Percentile)
	stats.Threshold = threshold
	kept := make([]float64, len(in))
	for i, v := range in {
		if float64(v) < threshold {
			in[i] = 0
		}
		if in[i] != 0 {
			stats.KeptPixels++
		}
		kept[i] = float64(in[i])
	}
	// 掩码外已为 0，低于阈值同样清零
	mask.Scatter(data, in)
	if len(kept) > 0 {
		stats.Mean = stat.Mean(kept, nil)
		stats.KeptPercent = 100 * float64(stats.KeptPixels) / float64(len(kept))
	}

	blurred := gocv.NewMat()
	k := sc.opts.BlurKernel
	gocv.GaussianBlur(resized, &blurred, image.Point{X: k, Y: k}, 0, 0, gocv.BorderDefault)

	return blurred, stats, nil
}

// Colorize 把 [0,1] 显著图缩放到 [0,255] 并着色，返回 RGB 顺序的 CV8UC3 矩阵
func (sc *SaliencyCompositor) Colorize(heat gocv.Mat) (gocv.Mat, error) {
	data, err := heat.DataPtrFloat32()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("read heat map: %w", err)
	}
	levels := make([]byte, len(data))
	for i, v := range data {
		levels[i] = toByte(255 * float64(v))
	}

	gray, err := gocv.NewMatFromBytes(heat.Rows(), heat.Cols(), gocv.MatTypeCV8U, levels)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer gray.Close()

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(gray, &colored, sc.opts.ColorMap)

	rgb := gocv.NewMat()
	gocv.CvtColor(colored, &rgb, gocv.ColorBGRToRGB)
	return rgb, nil
}

// Compose 完整流水线：显著图着色后与原图按权重叠加
func (sc *SaliencyCompositor) Compose(grad *tensor.Tensor, img image.Image, size image.Point) (*image.RGBA, model.SaliencyStats, error) {
	heat, stats, err := sc.Heat(grad, size)
	if err != nil {
		return nil, stats, err
	}
	defer heat.Close()

	rgb, err := sc.Colorize(heat)
	if err != nil {
		return nil, stats, err
	}
	defer rgb.Close()

	orig, err := fitImage(img, size)
	if err != nil {
		return nil, stats, err
	}
	out, err := sc.Blend(rgb, orig)
	if err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// Blend heat*wh + orig*wi，截断为 uint8
func (sc *SaliencyCompositor) Blend(rgb gocv.Mat, orig *image.RGBA) (*image.RGBA, error) {
	b := orig.Bounds()
	if rgb.Cols() != b.Dx() || rgb.Rows() != b.Dy() {
		return nil, fmt.Errorf("heat map %dx%d does not match image %dx%d", rgb.Cols(), rgb.Rows(), b.Dx(), b.Dy())
	}
	heat, err := rgb.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("read color map: %w", err)
	}

	wh, wi := sc.opts.HeatmapWeight, sc.opts.ImageWeight
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			src := orig.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst := out.PixOffset(x, y)
			h := (y*b.Dx() + x) * 3
			for c := 0; c < 3; c++ {
				out.Pix[dst+c] = toByte(wh*float64(heat[h+c]) + wi*float64(orig.Pix[src+c]))
			}
			out.Pix[dst+3] = 255
		}
	}
	return out, nil
}

// fitImage 把原图转换为 size 大小的 RGBA
func fitImage(img image.Image, size image.Point) (*image.RGBA, error) {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Dx() == size.X && b.Dy() == size.Y {
		return rgba, nil
	}

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationLinear)

	out, err := dst.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	rgba := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			rgba.Set(x, y, out.At(out.Bounds().Min.X+x, out.Bounds().Min.Y+y))
		}
	}
	return rgba, nil
}

// Percentile 线性插值百分位数，与 numpy 默认一致
func Percentile(values []float32, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[hi])-float64(sorted[lo]))*frac
}

func minMax(values []float32) (float32, float32) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func toByte(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
