package media

import (
	"fmt"
	"strings"
)

// Kind identifies which family of codec a request targets.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
	KindAudio
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Category returns the cache category that outputs of this kind are written to.
func (k Kind) Category() Category {
	switch k {
	case KindImage:
		return CategoryImages
	case KindVideo:
		return CategoryVideos
	case KindAudio:
		return CategoryAudio
	default:
		return CategoryTemp
	}
}

// ParseKind parses "image", "video" or "audio".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return KindImage, nil
	case "video":
		return KindVideo, nil
	case "audio":
		return KindAudio, nil
	default:
		return KindUnknown, fmt.Errorf("unknown media kind %q", s)
	}
}

// Category is a cache subdirectory owned by the service.
type Category string

const (
	CategoryImages     Category = "compressed_images"
	CategoryVideos     Category = "compressed_videos"
	CategoryAudio      Category = "compressed_audio"
	CategoryThumbnails Category = "thumbnails"
	CategoryTemp       Category = "temp"
)

// Categories lists every cache subdirectory, in the order they are cleared.
func Categories() []Category {
	return []Category{
		CategoryImages,
		CategoryVideos,
		CategoryAudio,
		CategoryThumbnails,
		CategoryTemp,
	}
}

// FilePrefix is the file name prefix used for outputs in this category.
func (c Category) FilePrefix() string {
	switch c {
	case CategoryThumbnails:
		return "thumbnail"
	case CategoryTemp:
		return "temp"
	default:
		return "compressed"
	}
}
