package codec

import (
	"io"

	"github.com/rwcarlsen/goexif/exif"
)

// ReadOrientation returns the EXIF orientation tag (1-8) of an image, or 0
// when the image carries none. A partially broken EXIF block still yields
// the tags that decoded.
func ReadOrientation(r io.Reader) (int, error) {
	x, _ := exif.Decode(r)
	if x == nil {
		return 0, nil
	}
	field, err := x.Get(exif.Orientation)
	if err != nil {
		return 0, nil
	}
	v, err := field.Int(0)
	if err != nil {
		return 0, err
	}
	if v < 1 || v > 8 {
		return 0, nil
	}
	return v, nil
}
