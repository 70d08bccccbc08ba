package service

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBrainMaskProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("mask is symmetric under 180 degree rotation", prop.ForAll(
		func(w, h int) bool {
			m := NewBrainMask(w, h, DefaultMaskOffset, DefaultMinMaskRadius)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					if m.contains(x, y) != m.contains(w-1-x, h-1-y) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 120),
		gen.IntRange(1, 120),
	))

	properties.Property("pixel count approximates pi r^2", prop.ForAll(
		func(w, h int) bool {
			m := NewBrainMask(w, h, DefaultMaskOffset, DefaultMinMaskRadius)
			// 离散化误差与周长同阶
			tol := 2*math.Pi*m.Radius + 4
			return math.Abs(float64(m.Count())-m.area()) <= tol
		},
		gen.IntRange(21, 400),
		gen.IntRange(21, 400),
	))

	properties.TestingRun(t)
}

func TestBrainMaskRadius(t *testing.T) {
	m := NewBrainMask(224, 224, DefaultMaskOffset, DefaultMinMaskRadius)
	assert.Equal(t, 102.0, m.Radius)
	assert.True(t, m.contains(112, 112))
	assert.False(t, m.contains(0, 0))
	assert.False(t, m.contains(-1, 5))
	assert.InDelta(t, m.area(), float64(m.Count()), 2*math.Pi*m.Radius)

	rect := NewBrainMask(300, 200, DefaultMaskOffset, DefaultMinMaskRadius)
	assert.Equal(t, 90.0, rect.Radius)
}

func TestBrainMaskClampsSmallImage(t *testing.T) {
	m := NewBrainMask(21, 21, DefaultMaskOffset, DefaultMinMaskRadius)
	assert.Equal(t, 1.0, m.Radius)
	assert.Equal(t, 5, m.Count())
	assert.True(t, m.contains(10, 10))
	assert.True(t, m.contains(9, 10))
	assert.False(t, m.contains(9, 9))

	tiny := NewBrainMask(3, 3, DefaultMaskOffset, DefaultMinMaskRadius)
	assert.Positive(t, tiny.Count())
}

func TestBrainMaskApplyScatter(t *testing.T) {
	m := NewBrainMask(21, 21, DefaultMaskOffset, DefaultMinMaskRadius)
	data := make([]float32, 21*21)
	for i := range data {
		data[i] = 1
	}
	in := m.Apply(data)
	assert.Len(t, in, 5)

	nonzero := 0
	for _, v := range data {
		if v != 0 {
			nonzero++
		}
	}
	assert.Equal(t, 5, nonzero)

	for i := range in {
		in[i] = 7
	}
	m.Scatter(data, in)
	assert.Equal(t, float32(7), data[10*21+10])
	assert.Equal(t, float32(0), data[0])
}
