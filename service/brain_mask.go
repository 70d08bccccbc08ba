package service

import "math"

// BrainMask 以 (W/2, H/2) 为圆心的圆形脑区掩码
type BrainMask struct {
	Width  int
	Height int
	Radius float64
	inside []bool
	count  int
}

// NewBrainMask 半径为 min(W,H)/2 - offset，不足 minRadius 时取 minRadius
func NewBrainMask(width, height int, offset, minRadius float64) *BrainMask {
	r := float64(min(width, height))/2 - offset
	if r < minRadius {
		r = minRadius
	}

	m := &BrainMask{
		Width:  width,
		Height: height,
		Radius: r,
		inside: make([]bool, width*height),
	}

	// 按像素中心采样，掩码关于圆心严格中心对称
	cx, cy := float64(width)/2, float64(height)/2
	r2 := r * r
	for y := 0; y < height; y++ {
		dy := float64(y) + 0.5 - cy
		for x := 0; x < width; x++ {
			dx := float64(x) + 0.5 - cx
			if dx*dx+dy*dy <= r2 {
				m.inside[y*width+x] = true
				m.count++
			}
		}
	}
	return m
}

// contains 判断像素是否在掩码内
func (m *BrainMask) contains(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.inside[y*m.Width+x]
}

// Count 掩码内像素数
func (m *BrainMask) Count() int {
	return m.count
}

// area 连续圆面积 πr²
func (m *BrainMask) area() float64 {
	return math.Pi * m.Radius * m.Radius
}

// Apply 将掩码外的值清零，返回掩码内的值
func (m *BrainMask) Apply(data []float32) []float32 {
	in := make([]float32, 0, m.count)
	for i, ok := range m.inside {
		if ok {
			in = append(in, data[i])
		} else {
			data[i] = 0
		}
	}
	return in
}

// Scatter 把掩码内的值按顺序写回
func (m *BrainMask) Scatter(data, in []float32) {
	j := 0
	for i, ok := range m.inside {
		if ok {
			data[i] = in[j]
			j++
		}
	}
}
