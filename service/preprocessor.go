package service

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"image/color"
	"io"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/brauliopf/brain-tumor-classification/tensor"
)

// ErrUnreadableImage 无法解码的图片
var ErrUnreadableImage = errors.New("unreadable image")

// Preprocessor 把上传的图片转换为模型输入张量
type Preprocessor struct{}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Decode 解码 JPEG/PNG（以及 BMP/WebP/TIFF）
func (p *Preprocessor) Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return img, format, nil
}

// Prepare 最近邻缩放到 size×size，返回 [1,size,size,3] 的 [0,1] 张量和缩放后的 RGB 图
func (p *Preprocessor) Prepare(img image.Image, size int) (*tensor.Tensor, *image.RGBA, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("invalid target size %d", size)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, nil, fmt.Errorf("empty image")
	}

	resized := resize.Resize(uint(size), uint(size), flattenAlpha(img), resize.NearestNeighbor)
	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), resized, resized.Bounds().Min, draw.Src)

	x := tensor.New(1, size, size, 3)
	for y := 0; y < size; y++ {
		for xx := 0; xx < size; xx++ {
			off := rgba.PixOffset(xx, y)
			i := x.Index4(0, y, xx, 0)
			x.Data[i] = float32(rgba.Pix[off]) / 255
			x.Data[i+1] = float32(rgba.Pix[off+1]) / 255
			x.Data[i+2] = float32(rgba.Pix[off+2]) / 255
		}
	}
	return x, rgba, nil
}

// flattenAlpha 丢弃 alpha 通道，保留未预乘的 RGB 值
func flattenAlpha(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			off := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[off] = c.R
			out.Pix[off+1] = c.G
			out.Pix[off+2] = c.B
			out.Pix[off+3] = 0xff
		}
	}
	return out
}
