package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/barasher/go-exiftool"
)

// carriedTags are copied from source to output when metadata is kept.
// Orientation is left out because pixels are already auto-oriented.
var carriedTags = []string{
	"Make",
	"Model",
	"LensModel",
	"DateTimeOriginal",
	"CreateDate",
	"ExposureTime",
	"FNumber",
	"ISO",
	"FocalLength",
	"GPSLatitude",
	"GPSLatitudeRef",
	"GPSLongitude",
	"GPSLongitudeRef",
	"GPSAltitude",
	"Artist",
	"Copyright",
	"ImageDescription",
}

// ErrCopierClosed is returned by CopyMetadata after Close.
var ErrCopierClosed = errors.New("metadata copier is closed")

// ExiftoolCopier copies a whitelist of tags with exiftool. One exiftool
// process is started on first use and shared by every call until Close.
type ExiftoolCopier struct {
	start func() (*exiftool.Exiftool, error)

	mu     sync.Mutex
	et     *exiftool.Exiftool
	closed bool
}

func NewExiftoolCopier(opts ...func(*exiftool.Exiftool) error) *ExiftoolCopier {
	return &ExiftoolCopier{
		start: func() (*exiftool.Exiftool, error) {
			return exiftool.NewExiftool(opts...)
		},
	}
}

// CopyMetadata copies the carried tags of src onto dst. Calls are
// serialized on the shared exiftool process.
func (c *ExiftoolCopier) CopyMetadata(src, dst string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCopierClosed
	}
	if c.et == nil {
		et, err := c.start()
		if err != nil {
			return fmt.Errorf("start exiftool: %w", err)
		}
		c.et = et
	}

	files := c.et.ExtractMetadata(src)
	if len(files) != 1 {
		return fmt.Errorf("exiftool returned %d results", len(files))
	}
	if files[0].Err != nil {
		return fmt.Errorf("read %s: %w", src, files[0].Err)
	}

	out := exiftool.FileMetadata{File: dst, Fields: make(map[string]interface{})}
	for _, tag := range carriedTags {
		if v, ok := files[0].Fields[tag]; ok {
			out.Fields[tag] = v
		}
	}
	if len(out.Fields) == 0 {
		return nil
	}

	result := []exiftool.FileMetadata{out}
	c.et.WriteMetadata(result)
	if result[0].Err != nil {
		return fmt.Errorf("write %s: %w", dst, result[0].Err)
	}
	return nil
}

// Close stops the exiftool process, if one was started.
func (c *ExiftoolCopier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.et == nil {
		return nil
	}
	err := c.et.Close()
	c.et = nil
	return err
}

var _ MetadataCopier = (*ExiftoolCopier)(nil)
