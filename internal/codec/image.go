package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/media"
)

// ThumbnailQuality is the JPEG quality used for video thumbnails.
const ThumbnailQuality = 90

// ImagingCodec implements ImageCodec with github.com/disintegration/imaging.
type ImagingCodec struct {
	copier MetadataCopier
	logger *logrus.Logger
}

// NewImagingCodec creates an ImagingCodec. copier may be nil, in which case
// KeepMetadata is ignored.
func NewImagingCodec(copier MetadataCopier, logger *logrus.Logger) *ImagingCodec {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ImagingCodec{copier: copier, logger: logger}
}

// DecodeConfig reads only the image header and returns the displayed size.
// Width and height are swapped for EXIF orientations that transpose the
// image, matching the pixels ResizeEncode works on.
func (c *ImagingCodec) DecodeConfig(ctx context.Context, path string) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	orientation, err := ReadOrientation(f)
	if err != nil {
		c.logger.WithField("file", path).Debugf("Invalid EXIF orientation: %v", err)
	}
	if media.Transposes(orientation) {
		return cfg.Height, cfg.Width, nil
	}
	return cfg.Width, cfg.Height, nil
}

func (c *ImagingCodec) ResizeEncode(ctx context.Context, req ImageRequest) error {
	img, err := imaging.Open(req.Source, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := img.Bounds()
	if req.Width > 0 && req.Height > 0 && (b.Dx() != req.Width || b.Dy() != req.Height) {
		img = imaging.Resize(img, req.Width, req.Height, imaging.Lanczos)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	switch req.Format {
	case media.ImageFormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality(req.Quality)))
	}
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	tmpPath := req.Output + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write tmp file error: %w", err)
	}

	if req.KeepMetadata && c.copier != nil {
		if err := c.copier.CopyMetadata(req.Source, tmpPath); err != nil {
			c.logger.WithFields(logrus.Fields{
				"file":  req.Source,
				"error": err.Error(),
			}).Warn("Metadata not carried over")
		}
	}

	if err := os.Rename(tmpPath, req.Output); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename error: %w", err)
	}
	return nil
}

// WriteThumbnail fits frame into maxWidth x maxHeight and writes it as JPEG.
func (c *ImagingCodec) WriteThumbnail(ctx context.Context, frame image.Image, output string, maxWidth, maxHeight int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	thumb := imaging.Fit(frame, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(ThumbnailQuality)); err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	tmpPath := output + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write tmp file error: %w", err)
	}
	if err := os.Rename(tmpPath, output); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename error: %w", err)
	}
	return nil
}

// jpegQuality converts the 0.0-1.0 scale to imaging's 1-100.
func jpegQuality(scale float64) int {
	q := int(math.Round(scale * 100))
	return min(max(q, 1), 100)
}

var _ ImageCodec = (*ImagingCodec)(nil)
