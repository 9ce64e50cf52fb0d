// Package cache owns the on-disk cache area: per-category output paths,
// size queries and bulk cleanup.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"media-compressor-go/internal/media"
)

// Allocator hands out unique file paths inside category subdirectories of root.
type Allocator struct {
	root    string
	now     func() time.Time
	counter atomic.Uint64
}

// NewAllocator creates an allocator rooted at root. The directory is created lazily.
func NewAllocator(root string) *Allocator {
	return &Allocator{root: root, now: time.Now}
}

// Root returns the cache root directory.
func (a *Allocator) Root() string {
	return a.root
}

// Dir returns the directory of a category.
func (a *Allocator) Dir(category media.Category) string {
	return filepath.Join(a.root, string(category))
}

// Allocate returns a fresh path <root>/<category>/<prefix>_<millis>_<seq>_<rand>.<ext>
// and makes sure the category directory exists. The file itself is not created.
func (a *Allocator) Allocate(category media.Category, ext string) (string, error) {
	dir := a.Dir(category)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", media.NewError(media.CodeIO, "allocate", dir, err)
	}

	ext = media.NormalizeExtension(ext)
	if ext == "" {
		ext = "bin"
	}

	seq := a.counter.Add(1)
	token := uuid.New().String()[:8]
	name := fmt.Sprintf("%s_%d_%d_%s.%s", category.FilePrefix(), a.now().UnixMilli(), seq, token, ext)

	return filepath.Join(dir, name), nil
}

// Clear removes every category directory. Missing directories are ignored.
func (a *Allocator) Clear() error {
	var errs []error
	for _, category := range media.Categories() {
		dir := a.Dir(category)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return media.NewError(media.CodeIO, "clear cache", a.root, errors.Join(errs...))
	}
	return nil
}

// Usage sums file sizes per category.
func (a *Allocator) Usage() (map[media.Category]int64, error) {
	usage := make(map[media.Category]int64, len(media.Categories()))
	for _, category := range media.Categories() {
		var total int64
		err := filepath.WalkDir(a.Dir(category), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.Type().IsRegular() {
				info, err := d.Info()
				if err != nil {
					return err
				}
				total += info.Size()
			}
			return nil
		})
		if err != nil {
			return nil, media.NewError(media.CodeIO, "cache usage", a.Dir(category), err)
		}
		usage[category] = total
	}
	return usage, nil
}

// FileSize returns the size of a regular file.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, media.NewError(media.CodeNotFound, "file size", path, err)
		}
		return 0, media.NewError(media.CodeIO, "file size", path, err)
	}
	if info.IsDir() {
		return 0, media.Errorf(media.CodeIO, "file size", path, "is a directory")
	}
	return info.Size(), nil
}

// StatSource checks that path names an existing regular file.
func StatSource(op, path string) (os.FileInfo, error) {
	if path == "" {
		return nil, media.Errorf(media.CodeInvalidArguments, op, path, "empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, media.NewError(media.CodeNotFound, op, path, err)
		}
		return nil, media.NewError(media.CodeIO, op, path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, media.Errorf(media.CodeNotFound, op, path, "not a regular file")
	}
	return info, nil
}
