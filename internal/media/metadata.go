package media

// Metadata is a read-only snapshot produced by the metadata extractor.
type Metadata interface {
	MediaKind() Kind
}

// ImageMetadata describes a still image. Orientation is the EXIF orientation
// tag (1-8), or 0 when the file carries none.
type ImageMetadata struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ByteSize    int64  `json:"size"`
	Extension   string `json:"extension"`
	MimeType    string `json:"mimeType"`
	Orientation int    `json:"orientation"`
}

// DisplaySize returns the size of the image as shown, with the EXIF
// orientation applied.
func (m ImageMetadata) DisplaySize() (int, int) {
	if Transposes(m.Orientation) {
		return m.Height, m.Width
	}
	return m.Width, m.Height
}

// Transposes reports whether an EXIF orientation swaps width and height
// (orientations 5 to 8).
func Transposes(orientation int) bool {
	return orientation >= 5 && orientation <= 8
}

// VideoMetadata describes a video container.
type VideoMetadata struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration"`
	ByteSize        int64   `json:"size"`
	Extension       string  `json:"extension"`
	BitrateBps      int64   `json:"bitrate"`
	FrameRate       float64 `json:"frameRate"`
	// Rotation is the clockwise display rotation in degrees: 0, 90, 180 or 270.
	Rotation        int     `json:"rotation"`
}

// DisplaySize returns the frame size after rotation is applied. Width and
// Height are the coded size, which players and ffmpeg rotate before scaling.
func (m VideoMetadata) DisplaySize() (int, int) {
	if m.Rotation%180 != 0 {
		return m.Height, m.Width
	}
	return m.Width, m.Height
}

// AudioMetadata describes an audio file. Tag fields are empty when the
// container has no readable tags.
type AudioMetadata struct {
	DurationSeconds float64 `json:"duration"`
	ByteSize        int64   `json:"size"`
	Extension       string  `json:"extension"`
	BitrateBps      int64   `json:"bitrate"`
	SampleRateHz    int     `json:"sampleRate"`
	Channels        int     `json:"channels"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
}

func (ImageMetadata) MediaKind() Kind { return KindImage }
func (VideoMetadata) MediaKind() Kind { return KindVideo }
func (AudioMetadata) MediaKind() Kind { return KindAudio }
