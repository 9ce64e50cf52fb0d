package media

import (
	"fmt"
	"strings"
)

// Method selects between the automatic heuristic and caller-supplied limits.
type Method string

const (
	MethodAuto   Method = "auto"
	MethodManual Method = "manual"
)

// AudioQuality is the coarse quality tier for audio output.
type AudioQuality string

const (
	AudioQualityLow    AudioQuality = "low"
	AudioQualityMedium AudioQuality = "medium"
	AudioQualityHigh   AudioQuality = "high"
)

// ImageFormat is an image container the encoder can write.
type ImageFormat string

const (
	ImageFormatJPEG ImageFormat = "jpg"
	ImageFormatPNG  ImageFormat = "png"
)

// ImageOptions are fully resolved image compression parameters.
type ImageOptions struct {
	Quality      float64     `json:"quality"`
	MaxWidth     int         `json:"maxWidth"`
	MaxHeight    int         `json:"maxHeight"`
	OutputFormat ImageFormat `json:"outputFormat"`
	KeepMetadata bool        `json:"keepMetadata"`
	Method       Method      `json:"compressionMethod"`
}

// VideoOptions are fully resolved video compression parameters.
// Bitrate and FrameRate are zero when unset.
type VideoOptions struct {
	Quality      float64 `json:"quality"`
	MaxWidth     int     `json:"maxWidth"`
	MaxHeight    int     `json:"maxHeight"`
	OutputFormat string  `json:"outputFormat"`
	Bitrate      int     `json:"bitrate,omitempty"`
	FrameRate    int     `json:"frameRate,omitempty"`
	Codec        string  `json:"codec"`
	EnableAudio  bool    `json:"enableAudio"`
	AudioCodec   string  `json:"audioCodec"`
	KeepMetadata bool    `json:"keepMetadata"`
	Method       Method  `json:"compressionMethod"`
}

// AudioOptions are fully resolved audio compression parameters.
type AudioOptions struct {
	Quality      AudioQuality `json:"quality"`
	OutputFormat string       `json:"outputFormat"`
	SampleRate   int          `json:"sampleRate"`
	Channels     int          `json:"channels"`
	AudioCodec   string       `json:"audioCodec"`
	Bitrate      int          `json:"bitrate,omitempty"`
	KeepMetadata bool         `json:"keepMetadata"`
}

// DefaultImageOptions returns the documented image defaults.
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		Quality:      0.8,
		MaxWidth:     1280,
		MaxHeight:    1280,
		OutputFormat: ImageFormatJPEG,
		Method:       MethodAuto,
	}
}

// DefaultVideoOptions returns the documented video defaults.
func DefaultVideoOptions() VideoOptions {
	return VideoOptions{
		Quality:      0.8,
		MaxWidth:     640,
		MaxHeight:    480,
		OutputFormat: "mp4",
		Codec:        "h264",
		EnableAudio:  true,
		AudioCodec:   "aac",
		Method:       MethodAuto,
	}
}

// DefaultAudioOptions returns the documented audio defaults.
func DefaultAudioOptions() AudioOptions {
	return AudioOptions{
		Quality:      AudioQualityMedium,
		OutputFormat: "m4a",
		SampleRate:   44100,
		Channels:     2,
		AudioCodec:   "aac",
	}
}

// ImageOptionsInput is the wire form of ImageOptions; nil fields take defaults.
type ImageOptionsInput struct {
	Quality      *float64 `json:"quality,omitempty"`
	MaxWidth     *int     `json:"maxWidth,omitempty"`
	MaxHeight    *int     `json:"maxHeight,omitempty"`
	OutputFormat *string  `json:"outputFormat,omitempty"`
	KeepMetadata *bool    `json:"keepMetadata,omitempty"`
	Method       *string  `json:"compressionMethod,omitempty"`
}

// VideoOptionsInput is the wire form of VideoOptions; nil fields take defaults.
type VideoOptionsInput struct {
	Quality      *float64 `json:"quality,omitempty"`
	MaxWidth     *int     `json:"maxWidth,omitempty"`
	MaxHeight    *int     `json:"maxHeight,omitempty"`
	OutputFormat *string  `json:"outputFormat,omitempty"`
	Bitrate      *int     `json:"bitrate,omitempty"`
	FrameRate    *int     `json:"frameRate,omitempty"`
	Codec        *string  `json:"codec,omitempty"`
	EnableAudio  *bool    `json:"enableAudio,omitempty"`
	AudioCodec   *string  `json:"audioCodec,omitempty"`
	KeepMetadata *bool    `json:"keepMetadata,omitempty"`
	Method       *string  `json:"compressionMethod,omitempty"`
}

// AudioOptionsInput is the wire form of AudioOptions; nil fields take defaults.
type AudioOptionsInput struct {
	Quality      *string `json:"quality,omitempty"`
	OutputFormat *string `json:"outputFormat,omitempty"`
	SampleRate   *int    `json:"sampleRate,omitempty"`
	Channels     *int    `json:"channels,omitempty"`
	AudioCodec   *string `json:"audioCodec,omitempty"`
	Bitrate      *int    `json:"bitrate,omitempty"`
	KeepMetadata *bool   `json:"keepMetadata,omitempty"`
}

// Resolve applies defaults and validates the result.
func (in ImageOptionsInput) Resolve() (ImageOptions, error) {
	opts := DefaultImageOptions()
	if in.Quality != nil {
		opts.Quality = *in.Quality
	}
	if in.MaxWidth != nil {
		opts.MaxWidth = *in.MaxWidth
	}
	if in.MaxHeight != nil {
		opts.MaxHeight = *in.MaxHeight
	}
	if in.OutputFormat != nil {
		opts.OutputFormat = ImageFormat(normalizeExtension(*in.OutputFormat))
	}
	if in.KeepMetadata != nil {
		opts.KeepMetadata = *in.KeepMetadata
	}
	if in.Method != nil {
		opts.Method = Method(strings.ToLower(*in.Method))
	}
	return opts, opts.Validate()
}

// Validate checks ranges and enumerations.
func (o ImageOptions) Validate() error {
	if err := validateQuality(o.Quality); err != nil {
		return err
	}
	if err := validateBounds(o.MaxWidth, o.MaxHeight); err != nil {
		return err
	}
	if err := validateMethod(o.Method); err != nil {
		return err
	}
	switch o.OutputFormat {
	case ImageFormatJPEG, ImageFormatPNG:
		return nil
	default:
		return invalid("outputFormat must be jpg or png, got %q", o.OutputFormat)
	}
}

// Resolve applies defaults and validates the result.
func (in VideoOptionsInput) Resolve() (VideoOptions, error) {
	opts := DefaultVideoOptions()
	if in.Quality != nil {
		opts.Quality = *in.Quality
	}
	if in.MaxWidth != nil {
		opts.MaxWidth = *in.MaxWidth
	}
	if in.MaxHeight != nil {
		opts.MaxHeight = *in.MaxHeight
	}
	if in.OutputFormat != nil {
		opts.OutputFormat = normalizeExtension(*in.OutputFormat)
	}
	if in.Bitrate != nil {
		opts.Bitrate = *in.Bitrate
	}
	if in.FrameRate != nil {
		opts.FrameRate = *in.FrameRate
	}
	if in.Codec != nil {
		opts.Codec = strings.ToLower(*in.Codec)
	}
	if in.EnableAudio != nil {
		opts.EnableAudio = *in.EnableAudio
	}
	if in.AudioCodec != nil {
		opts.AudioCodec = strings.ToLower(*in.AudioCodec)
	}
	if in.KeepMetadata != nil {
		opts.KeepMetadata = *in.KeepMetadata
	}
	if in.Method != nil {
		opts.Method = Method(strings.ToLower(*in.Method))
	}
	return opts, opts.Validate()
}

// Validate checks ranges and enumerations.
func (o VideoOptions) Validate() error {
	if err := validateQuality(o.Quality); err != nil {
		return err
	}
	if err := validateBounds(o.MaxWidth, o.MaxHeight); err != nil {
		return err
	}
	if err := validateMethod(o.Method); err != nil {
		return err
	}
	if o.Bitrate < 0 {
		return invalid("bitrate must be positive, got %d", o.Bitrate)
	}
	if o.FrameRate < 0 {
		return invalid("frameRate must be positive, got %d", o.FrameRate)
	}
	if o.OutputFormat == "" || o.Codec == "" || o.AudioCodec == "" {
		return invalid("outputFormat, codec and audioCodec must not be empty")
	}
	return nil
}

// Resolve applies defaults and validates the result.
func (in AudioOptionsInput) Resolve() (AudioOptions, error) {
	opts := DefaultAudioOptions()
	if in.Quality != nil {
		opts.Quality = AudioQuality(strings.ToLower(*in.Quality))
	}
	if in.OutputFormat != nil {
		opts.OutputFormat = normalizeExtension(*in.OutputFormat)
	}
	if in.SampleRate != nil {
		opts.SampleRate = *in.SampleRate
	}
	if in.Channels != nil {
		opts.Channels = *in.Channels
	}
	if in.AudioCodec != nil {
		opts.AudioCodec = strings.ToLower(*in.AudioCodec)
	}
	if in.Bitrate != nil {
		opts.Bitrate = *in.Bitrate
	}
	if in.KeepMetadata != nil {
		opts.KeepMetadata = *in.KeepMetadata
	}
	return opts, opts.Validate()
}

// Validate checks ranges and enumerations.
func (o AudioOptions) Validate() error {
	switch o.Quality {
	case AudioQualityLow, AudioQualityMedium, AudioQualityHigh:
	default:
		return invalid("quality must be low, medium or high, got %q", o.Quality)
	}
	if o.SampleRate <= 0 {
		return invalid("sampleRate must be positive, got %d", o.SampleRate)
	}
	if o.Channels <= 0 {
		return invalid("channels must be positive, got %d", o.Channels)
	}
	if o.Bitrate < 0 {
		return invalid("bitrate must be positive, got %d", o.Bitrate)
	}
	if o.OutputFormat == "" || o.AudioCodec == "" {
		return invalid("outputFormat and audioCodec must not be empty")
	}
	return nil
}

func validateQuality(q float64) error {
	if q < 0 || q > 1 {
		return invalid("quality must be within [0, 1], got %v", q)
	}
	return nil
}

func validateBounds(w, h int) error {
	if w <= 0 || h <= 0 {
		return invalid("maxWidth and maxHeight must be positive, got %dx%d", w, h)
	}
	return nil
}

func validateMethod(m Method) error {
	if m != MethodAuto && m != MethodManual {
		return invalid("compressionMethod must be auto or manual, got %q", m)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return &Error{Code: CodeInvalidArguments, Op: "options", Err: fmt.Errorf(format, args...)}
}

// normalizeExtension lowercases and strips a leading dot; "jpeg" becomes "jpg".
func normalizeExtension(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

// NormalizeExtension is exported for callers that allocate output paths directly.
func NormalizeExtension(ext string) string {
	return normalizeExtension(ext)
}
