// Package codectest builds image fixtures for tests.
package codectest

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"os"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// OrientedJPEG writes a w x h JPEG to path whose EXIF block carries the given
// orientation tag. The stored pixels are w x h; viewers that honour the tag
// show h x w for orientations 5 to 8.
func OrientedJPEG(t testing.TB, path string, w, h int, orientation uint16) {
	t.Helper()

	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 60, B: 20, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	data := buf.Bytes()
	require.True(t, len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8, "not a JPEG")

	out := make([]byte, 0, len(data)+64)
	out = append(out, data[:2]...)
	out = append(out, exifSegment(orientation)...)
	out = append(out, data[2:]...)
	require.NoError(t, os.WriteFile(path, out, 0644))
}

// exifSegment is an APP1 segment holding a big-endian TIFF header and a
// single IFD0 entry for Orientation (0x0112, SHORT).
func exifSegment(orientation uint16) []byte {
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(0x002A))
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, uint16(0x0112))
	binary.Write(&tiff, binary.BigEndian, uint16(3))
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, orientation)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)

	var seg bytes.Buffer
	seg.Write([]byte{0xFF, 0xE1})
	binary.Write(&seg, binary.BigEndian, uint16(len(payload)+2))
	seg.Write(payload)
	return seg.Bytes()
}
