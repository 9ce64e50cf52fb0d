// Package sizing computes target dimensions and encoder quality for a
// compression request. Everything here is pure.
package sizing

import "math"

// AutoMaxDimension is the long-edge cap applied in auto mode.
const AutoMaxDimension = 1280

// BytesPerPixel is the size of one decoded ARGB pixel.
const BytesPerPixel = 4

// quality buckets, keyed by the exclusive upper bound of the estimated size
var qualitySteps = []struct {
	below   int64
	quality int
}{
	{500_000, 92},
	{1_000_000, 85},
	{2_000_000, 80},
	{5_000_000, 75},
}

const fallbackQuality = 70

// AutoDimensions caps the long edge at AutoMaxDimension and derives the other
// edge from the aspect ratio.
func AutoDimensions(width, height int) (int, int) {
	return ManualDimensions(width, height, AutoMaxDimension, AutoMaxDimension)
}

// ManualDimensions caps width by maxWidth when the image is landscape, and
// height by maxHeight otherwise. The other edge is derived from the aspect
// ratio and is never capped separately, so extreme aspect ratios can exceed
// the other bound.
func ManualDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}

	if width > height {
		tw := min(width, maxWidth)
		if tw <= 0 {
			return 0, 0
		}
		return tw, derive(tw, height, width)
	}

	th := min(height, maxHeight)
	if th <= 0 {
		return 0, 0
	}
	return derive(th, width, height), th
}

// derive scales edge by num/den, rounding half away from zero, never below 1.
func derive(edge, num, den int) int {
	v := int(math.Round(float64(edge) * float64(num) / float64(den)))
	if v < 1 {
		return 1
	}
	return v
}

// AutoQuality picks an integer quality percentage from the estimated size of
// the resized pixel buffer. Each bucket's upper bound belongs to the next one.
func AutoQuality(estimatedBytes int64) int {
	for _, step := range qualitySteps {
		if estimatedBytes < step.below {
			return step.quality
		}
	}
	return fallbackQuality
}

// EstimateBufferSize is the byte size of a decoded width x height ARGB buffer.
func EstimateBufferSize(width, height int) int64 {
	return int64(width) * int64(height) * BytesPerPixel
}

// PercentToScale converts 0-100 to the 0.0-1.0 scale.
func PercentToScale(percent int) float64 {
	return float64(clampPercent(percent)) / 100
}

// ScaleToPercent converts 0.0-1.0 to 0-100, truncating.
func ScaleToPercent(scale float64) int {
	return clampPercent(int(scale * 100))
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
