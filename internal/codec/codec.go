// Package codec holds the concrete media codec collaborators: image
// resize/encode, ffmpeg video and audio transcoding, and frame extraction.
package codec

import (
	"context"
	"errors"
	"image"
	"time"

	"media-compressor-go/internal/media"
)

var (
	// ErrDecode means the input could not be decoded.
	ErrDecode = errors.New("cannot decode input")
	// ErrNoFrame means the frame extractor produced no image.
	ErrNoFrame = errors.New("no frame at requested position")
)

// ProgressFunc receives transcode progress in percent. Values are not
// guaranteed to be monotonic or bounded; callers clamp.
type ProgressFunc func(percent float64)

// ImageRequest describes one resize+encode. Quality is on the 0.0-1.0 scale.
type ImageRequest struct {
	Source       string
	Output       string
	Width        int
	Height       int
	Quality      float64
	Format       media.ImageFormat
	KeepMetadata bool
}

// VideoRequest describes one video transcode. Exactly one of CRF and Bitrate
// drives rate control; Bitrate wins when both are set.
type VideoRequest struct {
	Source          string
	Output          string
	Width           int
	Height          int
	Codec           string
	CRF             int
	Bitrate         int
	FrameRate       int
	EnableAudio     bool
	AudioCodec      string
	KeepMetadata    bool
	DurationSeconds float64
}

// AudioRequest describes one audio transcode.
type AudioRequest struct {
	Source          string
	Output          string
	Codec           string
	Bitrate         int
	SampleRate      int
	Channels        int
	KeepMetadata    bool
	DurationSeconds float64
}

// ImageCodec decodes, resizes and encodes still images. DecodeConfig reports
// the size as displayed, the same frame ResizeEncode scales.
type ImageCodec interface {
	DecodeConfig(ctx context.Context, path string) (width, height int, err error)
	ResizeEncode(ctx context.Context, req ImageRequest) error
	WriteThumbnail(ctx context.Context, frame image.Image, output string, maxWidth, maxHeight int) error
}

// Transcoder runs video and audio transcodes. Implementations must stop
// promptly when ctx is cancelled and return an error wrapping ctx.Err().
type Transcoder interface {
	TranscodeVideo(ctx context.Context, req VideoRequest, progress ProgressFunc) error
	TranscodeAudio(ctx context.Context, req AudioRequest, progress ProgressFunc) error
}

// FrameExtractor returns a single decoded frame of a video.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, path string, at time.Duration) (image.Image, error)
}

// MetadataCopier carries descriptive metadata from one file to another.
type MetadataCopier interface {
	CopyMetadata(src, dst string) error
}
