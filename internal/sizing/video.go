package sizing

import "strings"

type crfRange struct {
	min, max int
}

var crfRanges = map[string]crfRange{
	"h264": {min: 0, max: 51},
	"h265": {min: 0, max: 51},
	"hevc": {min: 0, max: 51},
	"vp9":  {min: 0, max: 63},
	"av1":  {min: 0, max: 63},
}

// CRF maps a 0-100 quality percentage onto the codec's constant rate factor
// scale. Higher quality yields a lower CRF. Unknown codecs use the h264 range.
func CRF(percent int, codec string) int {
	percent = clampPercent(percent)

	r, ok := crfRanges[strings.ToLower(codec)]
	if !ok {
		r = crfRanges["h264"]
	}

	return r.max - int(float64(percent)/100.0*float64(r.max-r.min))
}

// AudioBitrate returns the bitrate in bits per second for a quality tier.
func AudioBitrate(quality string) int {
	switch strings.ToLower(quality) {
	case "low":
		return 64_000
	case "high":
		return 192_000
	default:
		return 128_000
	}
}

const (
	// bits per pixel per frame used by the auto video bitrate heuristic
	autoBitsPerPixel = 0.1
	defaultFrameRate = 30
	minVideoBitrate  = 200_000
)

// AutoVideoBitrate derives a target bitrate from the output pixel rate and
// quality. frameRate <= 0 assumes 30 fps. The result never exceeds
// sourceBitrate when that is known.
func AutoVideoBitrate(width, height, frameRate int, quality float64, sourceBitrate int64) int {
	if frameRate <= 0 {
		frameRate = defaultFrameRate
	}
	if quality <= 0 {
		quality = 0.1
	}

	bitrate := max(int(float64(width*height*frameRate)*autoBitsPerPixel*quality), minVideoBitrate)
	if sourceBitrate > 0 && int64(bitrate) > sourceBitrate {
		bitrate = int(sourceBitrate)
	}
	return bitrate
}
