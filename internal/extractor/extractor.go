package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/cache"
	"media-compressor-go/internal/codec"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/probe"
)

// MediaExtractor reads image headers directly and asks a prober about
// video and audio containers. Results are cached per path, size and mtime.
type MediaExtractor struct {
	prober probe.Prober
	logger *logrus.Logger
	cache  atomic.Pointer[sync.Map]
	stats  CacheStats
	mutex  sync.RWMutex
}

// NewMediaExtractor returns a new MediaExtractor.
func NewMediaExtractor(prober probe.Prober, logger *logrus.Logger) *MediaExtractor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &MediaExtractor{prober: prober, logger: logger}
	e.cache.Store(&sync.Map{})
	return e
}

// Extract dispatches on kind.
func (e *MediaExtractor) Extract(ctx context.Context, path string, kind media.Kind) (media.Metadata, error) {
	switch kind {
	case media.KindImage:
		return e.ImageMetadata(ctx, path)
	case media.KindVideo:
		return e.VideoMetadata(ctx, path)
	case media.KindAudio:
		return e.AudioMetadata(ctx, path)
	default:
		return nil, media.Errorf(media.CodeInvalidArguments, "metadata", path, "unsupported media kind %s", kind)
	}
}

// ImageMetadata reads dimensions from the image header without decoding pixels.
func (e *MediaExtractor) ImageMetadata(ctx context.Context, path string) (media.ImageMetadata, error) {
	const op = "image metadata"
	info, err := cache.StatSource(op, path)
	if err != nil {
		return media.ImageMetadata{}, err
	}
	if cached, ok := loadCached[media.ImageMetadata](e, media.KindImage, path, info); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return media.ImageMetadata{}, media.NewError(media.CodeMetadata, op, path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return media.ImageMetadata{}, media.NewError(media.CodeIO, op, path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return media.ImageMetadata{}, media.NewError(media.CodeMetadata, op, path, err)
	}

	meta := media.ImageMetadata{
		Width:     cfg.Width,
		Height:    cfg.Height,
		ByteSize:  info.Size(),
		Extension: extensionOf(path),
	}

	if mtype, err := mimetype.DetectFile(path); err == nil {
		meta.MimeType = mtype.String()
		if meta.Extension == "" {
			meta.Extension = strings.TrimPrefix(mtype.Extension(), ".")
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		meta.Orientation = e.readOrientation(f, path)
	}

	e.store(media.KindImage, path, info, meta)
	return meta, nil
}

// VideoMetadata probes a video container. A container without a video stream
// reports zero dimensions.
func (e *MediaExtractor) VideoMetadata(ctx context.Context, path string) (media.VideoMetadata, error) {
	const op = "video metadata"
	info, err := cache.StatSource(op, path)
	if err != nil {
		return media.VideoMetadata{}, err
	}
	if cached, ok := loadCached[media.VideoMetadata](e, media.KindVideo, path, info); ok {
		return cached, nil
	}

	result, err := e.probe(ctx, op, path)
	if err != nil {
		return media.VideoMetadata{}, err
	}

	meta := media.VideoMetadata{
		DurationSeconds: result.DurationSeconds(),
		ByteSize:        info.Size(),
		Extension:       extensionOf(path),
		BitrateBps:      result.BitrateBps(),
	}
	if vs := result.VideoStream(); vs != nil {
		meta.Width = vs.Width
		meta.Height = vs.Height
		meta.Rotation = vs.Rotation()
		meta.FrameRate = probe.ParseFrameRate(vs.AvgFrameRate)
		if meta.FrameRate == 0 {
			meta.FrameRate = probe.ParseFrameRate(vs.RFrameRate)
		}
	}

	e.store(media.KindVideo, path, info, meta)
	return meta, nil
}

// AudioMetadata probes an audio file and reads its tags when present.
func (e *MediaExtractor) AudioMetadata(ctx context.Context, path string) (media.AudioMetadata, error) {
	const op = "audio metadata"
	info, err := cache.StatSource(op, path)
	if err != nil {
		return media.AudioMetadata{}, err
	}
	if cached, ok := loadCached[media.AudioMetadata](e, media.KindAudio, path, info); ok {
		return cached, nil
	}

	result, err := e.probe(ctx, op, path)
	if err != nil {
		return media.AudioMetadata{}, err
	}

	meta := media.AudioMetadata{
		DurationSeconds: result.DurationSeconds(),
		ByteSize:        info.Size(),
		Extension:       extensionOf(path),
		BitrateBps:      result.BitrateBps(),
		Title:           result.Tag("title"),
		Artist:          result.Tag("artist"),
		Album:           result.Tag("album"),
	}
	if as := result.AudioStream(); as != nil {
		meta.SampleRateHz = int(probe.ParseInt(as.SampleRate))
		meta.Channels = as.Channels
	}

	e.readTags(path, &meta)

	e.store(media.KindAudio, path, info, meta)
	return meta, nil
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (e *MediaExtractor) ClearCache() {
	e.cache.Store(&sync.Map{})
	e.mutex.Lock()
	e.stats = CacheStats{}
	e.mutex.Unlock()
}

// GetCacheStats returns cache statistics for this extractor.
func (e *MediaExtractor) GetCacheStats() CacheStats {
	e.mutex.RLock()
	stats := e.stats
	e.mutex.RUnlock()

	e.cache.Load().Range(func(_, _ any) bool {
		stats.Size++
		return true
	})
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (e *MediaExtractor) probe(ctx context.Context, op, path string) (*probe.Result, error) {
	if e.prober == nil {
		return nil, media.Errorf(media.CodeMetadata, op, path, "no media prober configured")
	}
	result, err := e.prober.Probe(ctx, path)
	if err != nil {
		return nil, media.NewError(media.CodeMetadata, op, path, err)
	}
	return result, nil
}

// readOrientation returns the EXIF orientation, or 0 when absent.
func (e *MediaExtractor) readOrientation(f *os.File, path string) int {
	orientation, err := codec.ReadOrientation(f)
	if err != nil {
		e.logger.Debugf("Invalid EXIF orientation in %s: %v", path, err)
	}
	return orientation
}

// readTags overlays embedded tags on what the prober reported.
func (e *MediaExtractor) readTags(path string, meta *media.AudioMetadata) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if !errors.Is(err, tag.ErrNoTagsFound) {
			e.logger.Debugf("Failed to read tags from %s: %v", path, err)
		}
		return
	}

	if v := strings.TrimSpace(m.Title()); v != "" {
		meta.Title = v
	}
	if v := strings.TrimSpace(m.Artist()); v != "" {
		meta.Artist = v
	}
	if v := strings.TrimSpace(m.Album()); v != "" {
		meta.Album = v
	}
}

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func cacheKey(kind media.Kind, path string, info os.FileInfo) string {
	return fmt.Sprintf("%s:%s:%d:%d", kind, path, info.Size(), info.ModTime().UnixNano())
}

func loadCached[T media.Metadata](e *MediaExtractor, kind media.Kind, path string, info os.FileInfo) (T, bool) {
	var zero T
	if value, ok := e.cache.Load().Load(cacheKey(kind, path, info)); ok {
		if meta, ok := value.(T); ok {
			e.incrementCacheHits()
			return meta, true
		}
	}
	e.incrementCacheMisses()
	return zero, false
}

func (e *MediaExtractor) store(kind media.Kind, path string, info os.FileInfo, meta media.Metadata) {
	e.cache.Load().Store(cacheKey(kind, path, info), meta)
}

func (e *MediaExtractor) incrementCacheHits() {
	e.mutex.Lock()
	e.stats.Hits++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}

func (e *MediaExtractor) incrementCacheMisses() {
	e.mutex.Lock()
	e.stats.Misses++
	e.stats.TotalQueries++
	e.mutex.Unlock()
}

var _ CachedMetadataExtractor = (*MediaExtractor)(nil)
