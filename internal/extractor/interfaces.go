package extractor

import (
	"context"

	"media-compressor-go/internal/media"
)

// MetadataExtractor reads structural metadata from media files.
type MetadataExtractor interface {
	Extract(ctx context.Context, path string, kind media.Kind) (media.Metadata, error)
	ImageMetadata(ctx context.Context, path string) (media.ImageMetadata, error)
	VideoMetadata(ctx context.Context, path string) (media.VideoMetadata, error)
	AudioMetadata(ctx context.Context, path string) (media.AudioMetadata, error)
}

// CachedMetadataExtractor extends MetadataExtractor with caching capabilities.
type CachedMetadataExtractor interface {
	MetadataExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Size         int     `json:"size"`
	HitRate      float64 `json:"hitRate"`
	TotalQueries int64   `json:"totalQueries"`
}
