package codec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

var videoEncoders = map[string]string{
	"h264": "libx264",
	"avc":  "libx264",
	"h265": "libx265",
	"hevc": "libx265",
	"vp9":  "libvpx-vp9",
	"av1":  "libaom-av1",
}

var audioEncoders = map[string]string{
	"aac":    "aac",
	"mp3":    "libmp3lame",
	"opus":   "libopus",
	"vorbis": "libvorbis",
	"flac":   "flac",
}

// FFmpeg implements Transcoder and FrameExtractor on top of the ffmpeg binary.
type FFmpeg struct {
	binary string
	preset string
	logger *logrus.Logger
}

// NewFFmpeg creates an FFmpeg runner. An empty binary means "ffmpeg" from PATH.
func NewFFmpeg(binary, preset string, logger *logrus.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if preset == "" {
		preset = "medium"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FFmpeg{binary: binary, preset: preset, logger: logger}
}

func (f *FFmpeg) Binary() string {
	return f.binary
}

func (f *FFmpeg) TranscodeVideo(ctx context.Context, req VideoRequest, progress ProgressFunc) error {
	return f.run(ctx, f.videoArgs(req), req.Output, req.DurationSeconds, progress)
}

func (f *FFmpeg) TranscodeAudio(ctx context.Context, req AudioRequest, progress ProgressFunc) error {
	return f.run(ctx, f.audioArgs(req), req.Output, req.DurationSeconds, progress)
}

func (f *FFmpeg) videoArgs(req VideoRequest) []string {
	codec := strings.ToLower(req.Codec)
	encoder, ok := videoEncoders[codec]
	if !ok {
		encoder = codec
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-y", "-i", req.Source}

	if req.Width > 0 && req.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", even(req.Width), even(req.Height)))
	}

	args = append(args, "-c:v", encoder)
	if encoder == "libx264" || encoder == "libx265" {
		args = append(args, "-preset", f.preset, "-pix_fmt", "yuv420p")
	}

	switch {
	case req.Bitrate > 0:
		args = append(args, "-b:v", strconv.Itoa(req.Bitrate))
	default:
		args = append(args, "-crf", strconv.Itoa(req.CRF))
		if encoder == "libvpx-vp9" || encoder == "libaom-av1" {
			args = append(args, "-b:v", "0")
		}
	}

	if req.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(req.FrameRate))
	}

	if req.EnableAudio {
		args = append(args, "-c:a", audioEncoder(req.AudioCodec), "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}

	args = append(args, metadataArgs(req.KeepMetadata)...)
	if strings.HasSuffix(strings.ToLower(req.Output), ".mp4") || strings.HasSuffix(strings.ToLower(req.Output), ".mov") {
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, "-progress", "pipe:1", req.Output)
}

func (f *FFmpeg) audioArgs(req AudioRequest) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-y", "-i", req.Source, "-vn"}
	args = append(args, "-c:a", audioEncoder(req.Codec))
	if req.Bitrate > 0 {
		args = append(args, "-b:a", strconv.Itoa(req.Bitrate))
	}
	if req.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(req.SampleRate))
	}
	if req.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(req.Channels))
	}
	args = append(args, metadataArgs(req.KeepMetadata)...)
	return append(args, "-progress", "pipe:1", req.Output)
}

func (f *FFmpeg) run(ctx context.Context, args []string, output string, duration float64, progress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, f.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}

	f.logger.WithFields(logrus.Fields{
		"function": "ffmpeg",
		"args":     strings.Join(args, " "),
	}).Debug("Starting ffmpeg")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanErr := readProgress(stdout, duration, progress)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
	}
	if waitErr != nil {
		_ = os.Remove(output)
		return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		f.logger.WithField("error", scanErr.Error()).Warn("Error reading ffmpeg progress")
	}
	return nil
}

// readProgress parses ffmpeg "-progress" key=value blocks and reports
// out_time against duration. progress=end reports 100.
func readProgress(r io.Reader, duration float64, progress ProgressFunc) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || progress == nil {
			continue
		}

		switch key {
		// out_time_ms is also microseconds in ffmpeg's output
		case "out_time_us", "out_time_ms":
			if duration <= 0 {
				continue
			}
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || us < 0 {
				continue
			}
			progress(float64(us) / 1e6 / duration * 100)
		case "progress":
			if value == "end" {
				progress(100)
			}
		}
	}
	return scanner.Err()
}

// ExtractFrame decodes the frame nearest to at as a PNG piped through stdout.
func (f *FFmpeg) ExtractFrame(ctx context.Context, path string, at time.Duration) (image.Image, error) {
	if at < 0 {
		at = 0
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg frame extraction failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if len(out) == 0 {
		return nil, ErrNoFrame
	}

	img, err := imaging.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

func audioEncoder(codec string) string {
	codec = strings.ToLower(codec)
	if enc, ok := audioEncoders[codec]; ok {
		return enc
	}
	return codec
}

func metadataArgs(keep bool) []string {
	if keep {
		return []string{"-map_metadata", "0"}
	}
	return []string{"-map_metadata", "-1"}
}

// even rounds down to an even number, never below 2.
func even(n int) int {
	return max(n-n%2, 2)
}

var (
	_ Transcoder     = (*FFmpeg)(nil)
	_ FrameExtractor = (*FFmpeg)(nil)
)
