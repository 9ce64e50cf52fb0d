// Package probe wraps ffprobe as the media-introspection collaborator.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains a null byte")
	// ErrUnreadable means ffprobe ran but could not parse the container.
	ErrUnreadable = errors.New("unreadable media")
)

// Prober returns stream information for a media file.
type Prober interface {
	Probe(ctx context.Context, path string) (*Result, error)
}

type Format struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	NbStreams  int               `json:"nb_streams"`
	Tags       map[string]string `json:"tags"`
}

type Stream struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	BitRate      string            `json:"bit_rate"`
	SampleRate   string            `json:"sample_rate"`
	Channels     int               `json:"channels"`
	Tags         map[string]string `json:"tags"`
	SideDataList []SideData        `json:"side_data_list"`
}

// SideData is one entry of a stream's side_data_list. Rotation is set on
// display matrix entries and is counterclockwise.
type SideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// Rotation returns the clockwise display rotation of the stream in degrees,
// normalized to 0, 90, 180 or 270. The display matrix wins over the legacy
// rotate tag.
func (s *Stream) Rotation() int {
	deg := 0.0
	found := false
	for _, sd := range s.SideDataList {
		if strings.EqualFold(sd.SideDataType, "Display Matrix") {
			deg = -sd.Rotation
			found = true
			break
		}
	}
	if !found {
		if v, err := strconv.ParseFloat(lookupTag(s.Tags, "rotate"), 64); err == nil {
			deg = v
		}
	}

	quarter := int(math.Round(deg/90)) % 4
	if quarter < 0 {
		quarter += 4
	}
	return quarter * 90
}

// Result is the decoded output of ffprobe -show_format -show_streams.
type Result struct {
	Format  Format   `json:"format"`
	Streams []Stream `json:"streams"`
}

func (r *Result) VideoStream() *Stream {
	return r.firstStream("video")
}

func (r *Result) AudioStream() *Stream {
	return r.firstStream("audio")
}

func (r *Result) firstStream(codecType string) *Stream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == codecType {
			return &r.Streams[i]
		}
	}
	return nil
}

// DurationSeconds prefers the container duration and falls back to the
// longest stream duration.
func (r *Result) DurationSeconds() float64 {
	if d := ParseDuration(r.Format.Duration); d > 0 {
		return d
	}
	var longest float64
	for _, s := range r.Streams {
		longest = max(longest, ParseDuration(s.Duration))
	}
	return longest
}

// BitrateBps prefers the container bitrate and falls back to the sum of
// stream bitrates.
func (r *Result) BitrateBps() int64 {
	if b := ParseInt(r.Format.BitRate); b > 0 {
		return b
	}
	var total int64
	for _, s := range r.Streams {
		total += ParseInt(s.BitRate)
	}
	return total
}

// Tag looks up a container or stream tag case-insensitively.
func (r *Result) Tag(key string) string {
	if v := lookupTag(r.Format.Tags, key); v != "" {
		return v
	}
	for _, s := range r.Streams {
		if v := lookupTag(s.Tags, key); v != "" {
			return v
		}
	}
	return ""
}

func lookupTag(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ParseFrameRate parses an ffprobe rational such as "30000/1001".
func ParseFrameRate(fraction string) float64 {
	if fraction == "" || fraction == "0/0" {
		return 0
	}
	var num, den int
	if _, err := fmt.Sscanf(fraction, "%d/%d", &num, &den); err == nil && den > 0 {
		return float64(num) / float64(den)
	}
	return 0
}

// ParseDuration parses seconds; "N/A" and garbage become 0.
func ParseDuration(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ParseInt parses an integer field; "N/A" and garbage become 0.
func ParseInt(s string) int64 {
	if s == "" || s == "N/A" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// FFprobe runs the ffprobe binary.
type FFprobe struct {
	binary string
}

// New creates an FFprobe using binary, or "ffprobe" from PATH when empty.
func New(binary string) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary}
}

func (f *FFprobe) Binary() string {
	return f.binary
}

func (f *FFprobe) Probe(ctx context.Context, path string) (*Result, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	cmd := exec.CommandContext(ctx, f.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s", ErrUnreadable, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return parseOutput(output)
}

func parseOutput(output []byte) (*Result, error) {
	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("%w: failed to parse ffprobe output: %v", ErrUnreadable, err)
	}
	if len(result.Streams) == 0 && result.Format.FormatName == "" {
		return nil, fmt.Errorf("%w: no streams", ErrUnreadable)
	}
	return &result, nil
}

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

var _ Prober = (*FFprobe)(nil)
