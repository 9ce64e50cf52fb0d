package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-compressor-go/internal/media"
)

func TestAllocator_Allocate(t *testing.T) {
	root := t.TempDir()
	a := NewAllocator(root)
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }

	path, err := a.Allocate(media.CategoryImages, ".JPEG")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "compressed_images"), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "compressed_1700000000000_1_"))
	assert.Equal(t, ".jpg", filepath.Ext(path))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "allocate must not create the file")
}

func TestAllocator_Prefixes(t *testing.T) {
	a := NewAllocator(t.TempDir())

	thumb, err := a.Allocate(media.CategoryThumbnails, "jpg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(thumb), "thumbnail_"))

	tmp, err := a.Allocate(media.CategoryTemp, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(tmp), "temp_"))
	assert.Equal(t, ".bin", filepath.Ext(tmp))
}

func TestAllocator_UniqueUnderConcurrency(t *testing.T) {
	a := NewAllocator(t.TempDir())
	frozen := time.Now()
	a.now = func() time.Time { return frozen }

	const n = 200
	paths := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Allocate(media.CategoryVideos, "mp4")
			assert.NoError(t, err)
			paths <- p
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool, n)
	for p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, n)
}

func TestAllocator_Clear(t *testing.T) {
	root := t.TempDir()
	a := NewAllocator(root)

	for _, c := range media.Categories() {
		p, err := a.Allocate(c, "dat")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}
	keep := filepath.Join(root, "history.db")
	require.NoError(t, os.WriteFile(keep, []byte("db"), 0644))

	usage, err := a.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage[media.CategoryAudio])

	require.NoError(t, a.Clear())
	for _, c := range media.Categories() {
		_, err := os.Stat(a.Dir(c))
		assert.True(t, os.IsNotExist(err))
	}
	_, err = os.Stat(keep)
	assert.NoError(t, err, "files outside the categories survive")

	require.NoError(t, a.Clear(), "clearing twice is fine")
}

func TestFileSize(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(p, make([]byte, 1234), 0644))

	size, err := FileSize(p)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)

	_, err = FileSize(filepath.Join(dir, "missing"))
	assert.True(t, media.IsNotFound(err))

	_, err = FileSize(dir)
	assert.Equal(t, media.CodeIO, media.CodeOf(err))
}

func TestStatSource(t *testing.T) {
	dir := t.TempDir()

	_, err := StatSource("op", "")
	assert.Equal(t, media.CodeInvalidArguments, media.CodeOf(err))

	_, err = StatSource("op", filepath.Join(dir, "nope.jpg"))
	assert.True(t, media.IsNotFound(err))

	_, err = StatSource("op", dir)
	assert.True(t, media.IsNotFound(err))
}
