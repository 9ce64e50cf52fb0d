package compressor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-compressor-go/internal/cache"
	"media-compressor-go/internal/codec"
	"media-compressor-go/internal/codec/codectest"
	"media-compressor-go/internal/extractor"
	"media-compressor-go/internal/history"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/progress"
	"media-compressor-go/internal/sizing"
)

// recordingImages delegates to the imaging codec and keeps the last request.
type recordingImages struct {
	codec.ImageCodec
	mu   sync.Mutex
	last codec.ImageRequest
}

func (r *recordingImages) ResizeEncode(ctx context.Context, req codec.ImageRequest) error {
	r.mu.Lock()
	r.last = req
	r.mu.Unlock()
	return r.ImageCodec.ResizeEncode(ctx, req)
}

func (r *recordingImages) lastRequest() codec.ImageRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

type fakeTranscoder struct {
	video func(ctx context.Context, req codec.VideoRequest, progress codec.ProgressFunc) error
	audio func(ctx context.Context, req codec.AudioRequest, progress codec.ProgressFunc) error

	mu        sync.Mutex
	lastVideo codec.VideoRequest
	lastAudio codec.AudioRequest
}

func (f *fakeTranscoder) TranscodeVideo(ctx context.Context, req codec.VideoRequest, progress codec.ProgressFunc) error {
	f.mu.Lock()
	f.lastVideo = req
	f.mu.Unlock()
	if f.video != nil {
		return f.video(ctx, req, progress)
	}
	return os.WriteFile(req.Output, []byte("video"), 0644)
}

func (f *fakeTranscoder) TranscodeAudio(ctx context.Context, req codec.AudioRequest, progress codec.ProgressFunc) error {
	f.mu.Lock()
	f.lastAudio = req
	f.mu.Unlock()
	if f.audio != nil {
		return f.audio(ctx, req, progress)
	}
	return os.WriteFile(req.Output, []byte("audio"), 0644)
}

func blockUntilCancelled(ctx context.Context, _ codec.VideoRequest, _ codec.ProgressFunc) error {
	<-ctx.Done()
	return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
}

type staticProber struct {
	result *probe.Result
	err    error
}

func (p staticProber) Probe(context.Context, string) (*probe.Result, error) {
	return p.result, p.err
}

var hdVideo = &probe.Result{
	Format: probe.Format{FormatName: "mov,mp4", Duration: "12.5", BitRate: "2000000"},
	Streams: []probe.Stream{
		{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, AvgFrameRate: "30/1"},
		{CodecType: "audio", CodecName: "aac", SampleRate: "48000", Channels: 2},
	},
}

type fakeFrames struct {
	frame image.Image
	err   error
	at    time.Duration
}

func (f *fakeFrames) ExtractFrame(_ context.Context, _ string, at time.Duration) (image.Image, error) {
	f.at = at
	return f.frame, f.err
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (m *memoryRecorder) Record(_ context.Context, e history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type testEnv struct {
	svc        *Service
	allocator  *cache.Allocator
	images     *recordingImages
	transcoder *fakeTranscoder
	frames     *fakeFrames
	recorder   *memoryRecorder
	dir        string
}

func newTestEnv(t *testing.T, prober probe.Prober) *testEnv {
	t.Helper()
	root := t.TempDir()
	log := logger.Discard()

	env := &testEnv{
		allocator:  cache.NewAllocator(filepath.Join(root, "cache")),
		images:     &recordingImages{ImageCodec: codec.NewImagingCodec(nil, log)},
		transcoder: &fakeTranscoder{},
		frames:     &fakeFrames{},
		recorder:   &memoryRecorder{},
		dir:        filepath.Join(root, "in"),
	}
	require.NoError(t, os.MkdirAll(env.dir, 0755))

	svc, err := NewService(Options{
		WorkerThreads:        2,
		FinalProgressTimeout: 200 * time.Millisecond,
	}, Dependencies{
		Allocator:  env.allocator,
		Extractor:  extractor.NewMediaExtractor(prober, log),
		Images:     env.images,
		Transcoder: env.transcoder,
		Frames:     env.frames,
		Sink:       progress.NewSink(64),
		History:    env.recorder,
		Logger:     log,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	env.svc = svc
	return env
}

func (e *testEnv) image(t *testing.T, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, imaging.Save(imaging.New(w, h, color.NRGBA{R: 30, G: 140, B: 220, A: 255}), path))
	return path
}

func (e *testEnv) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func drain(sub *progress.Subscription) []float64 {
	var got []float64
	for {
		select {
		case ev := <-sub.Events():
			got = append(got, ev.Percentage)
		default:
			return got
		}
	}
}

func TestNewService_RequiresAllocator(t *testing.T) {
	_, err := NewService(Options{}, Dependencies{})
	assert.Error(t, err)
}

func TestCompressImage_AutoLandscape(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.image(t, "wide.png", 2000, 1000)

	out, err := env.svc.CompressImage(waitCtx(t), src, media.DefaultImageOptions(), "")
	require.NoError(t, err)

	assert.Equal(t, env.allocator.Dir(media.CategoryImages), filepath.Dir(out))
	assert.True(t, strings.HasPrefix(filepath.Base(out), "compressed_"))
	assert.Equal(t, ".jpg", filepath.Ext(out))

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 1280, img.Bounds().Dx())
	assert.Equal(t, 640, img.Bounds().Dy())

	req := env.images.lastRequest()
	want := sizing.AutoQuality(sizing.EstimateBufferSize(1280, 640))
	assert.InDelta(t, sizing.PercentToScale(want), req.Quality, 1e-9)
	assert.Equal(t, media.ImageFormatJPEG, req.Format)
}

func TestCompressImage_ManualPortrait(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.image(t, "tall.png", 1000, 2000)

	opts := media.DefaultImageOptions()
	opts.Method = media.MethodManual
	opts.MaxWidth = 300
	opts.MaxHeight = 500
	opts.Quality = 0.5
	opts.OutputFormat = media.ImageFormatPNG

	out, err := env.svc.CompressImage(waitCtx(t), src, opts, "")
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(out))

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 250, img.Bounds().Dx())
	assert.Equal(t, 500, img.Bounds().Dy())
	assert.InDelta(t, 0.5, env.images.lastRequest().Quality, 1e-9)
}

func TestCompressImage_ExifOrientationKeepsDisplayedAspect(t *testing.T) {
	env := newTestEnv(t, nil)
	src := filepath.Join(env.dir, "portrait.jpg")
	// Stored 2000x1000, shown 1000x2000.
	codectest.OrientedJPEG(t, src, 2000, 1000, 6)

	out, err := env.svc.CompressImage(waitCtx(t), src, media.DefaultImageOptions(), "")
	require.NoError(t, err)

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 1280, img.Bounds().Dy())

	req := env.images.lastRequest()
	assert.Equal(t, 640, req.Width)
	assert.Equal(t, 1280, req.Height)
}

func TestCompressImage_ExifOrientationManual(t *testing.T) {
	env := newTestEnv(t, nil)
	src := filepath.Join(env.dir, "portrait.jpg")
	codectest.OrientedJPEG(t, src, 1200, 800, 8)

	opts := media.DefaultImageOptions()
	opts.Method = media.MethodManual
	opts.MaxWidth = 600
	opts.MaxHeight = 600

	out, err := env.svc.CompressImage(waitCtx(t), src, opts, "")
	require.NoError(t, err)

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
}

func TestCompressImage_EmitsFinalProgressBeforeDone(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.image(t, "a.png", 64, 64)

	sub := env.svc.Sink().SubscribeJob("img-1")
	job, err := env.svc.Start(Request{JobID: "img-1", Kind: media.KindImage, SourcePath: src, Image: media.DefaultImageOptions()})
	require.NoError(t, err)

	out, err := job.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Equal(t, []float64{100}, drain(sub))

	res := job.Result()
	assert.Equal(t, StateCompleted, res.State)
	assert.Positive(t, res.OriginalSize)
	assert.Positive(t, res.CompressedSize)
	assert.Equal(t, 0, env.svc.Registry().Len())
}

func TestCompressImage_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	job, err := env.svc.Start(Request{Kind: media.KindImage, SourcePath: filepath.Join(env.dir, "missing.jpg"), Image: media.DefaultImageOptions()})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID())

	_, err = job.Wait(waitCtx(t))
	require.Error(t, err)
	assert.True(t, media.IsNotFound(err))
	assert.Equal(t, StateFailed, job.State())
	assert.Equal(t, int64(1), env.svc.Statistics().Snapshot().JobsFailed)
}

func TestCompressImage_DecodeError(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.file(t, "broken.jpg", "definitely not a jpeg")

	_, err := env.svc.CompressImage(waitCtx(t), src, media.DefaultImageOptions(), "")
	require.Error(t, err)
	assert.Equal(t, media.CodeDecode, media.CodeOf(err))
}

func TestStart_RejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.image(t, "a.png", 10, 10)

	bad := media.DefaultImageOptions()
	bad.Quality = 1.5

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown kind", Request{Kind: media.KindUnknown, SourcePath: src}},
		{"empty path", Request{Kind: media.KindImage, Image: media.DefaultImageOptions()}},
		{"bad quality", Request{Kind: media.KindImage, SourcePath: src, Image: bad}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := env.svc.Start(tt.req)
			assert.Nil(t, job)
			assert.Equal(t, media.CodeInvalidArguments, media.CodeOf(err))
			assert.Equal(t, 0, env.svc.Registry().Len())
		})
	}
}

func TestCompressVideo_CancelBeforeProgress(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	env.transcoder.video = blockUntilCancelled
	src := env.file(t, "clip.mp4", "video bytes")

	sub := env.svc.Sink().SubscribeJob("vid-1")
	job, err := env.svc.Start(Request{JobID: "vid-1", Kind: media.KindVideo, SourcePath: src, Video: media.DefaultVideoOptions()})
	require.NoError(t, err)

	assert.True(t, env.svc.Cancel("vid-1"))
	assert.False(t, env.svc.Cancel("vid-1"))

	out, err := job.Wait(waitCtx(t))
	assert.Empty(t, out)
	require.Error(t, err)
	assert.True(t, media.IsCancelled(err))
	assert.Equal(t, media.CodeCompression, media.CodeOf(err))
	assert.Equal(t, StateCancelled, job.State())

	_, running := env.svc.Job("vid-1")
	assert.False(t, running)
	assert.NotContains(t, drain(sub), 100.0)
	assert.Equal(t, int64(1), env.svc.Statistics().Snapshot().JobsCancelled)
}

func TestCompressVideo_ProgressIsMonotonicAndEndsAt100(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	env.transcoder.video = func(_ context.Context, req codec.VideoRequest, report codec.ProgressFunc) error {
		for _, p := range []float64{10, 5, 50, 120} {
			report(p)
		}
		return os.WriteFile(req.Output, []byte("encoded"), 0644)
	}
	src := env.file(t, "clip.mp4", "video bytes")

	sub := env.svc.Sink().SubscribeJob("vid-2")
	out, err := env.svc.CompressVideo(waitCtx(t), src, media.DefaultVideoOptions(), "vid-2")
	require.NoError(t, err)
	assert.Equal(t, env.allocator.Dir(media.CategoryVideos), filepath.Dir(out))
	assert.Equal(t, ".mp4", filepath.Ext(out))

	assert.Equal(t, []float64{10, 50, 100}, drain(sub))

	req := env.transcoder.lastVideo
	assert.Equal(t, 640, req.Width)
	assert.Equal(t, 360, req.Height)
	assert.Equal(t, sizing.AutoVideoBitrate(640, 360, 30, 0.8, 2_000_000), req.Bitrate)
	assert.Zero(t, req.CRF)
	assert.InDelta(t, 12.5, req.DurationSeconds, 1e-9)
	assert.True(t, req.EnableAudio)
}

func TestCompressVideo_RotatedSourceScalesDisplayedFrame(t *testing.T) {
	rotated := &probe.Result{
		Format: probe.Format{FormatName: "mov,mp4", Duration: "8", BitRate: "2000000"},
		Streams: []probe.Stream{{
			CodecType:    "video",
			CodecName:    "h264",
			Width:        1920,
			Height:       1080,
			AvgFrameRate: "30/1",
			SideDataList: []probe.SideData{{SideDataType: "Display Matrix", Rotation: -90}},
		}},
	}
	env := newTestEnv(t, staticProber{result: rotated})
	src := env.file(t, "phone.mp4", "video bytes")

	_, err := env.svc.CompressVideo(waitCtx(t), src, media.DefaultVideoOptions(), "")
	require.NoError(t, err)

	req := env.transcoder.lastVideo
	assert.Equal(t, 270, req.Width)
	assert.Equal(t, 480, req.Height)
	assert.Equal(t, sizing.AutoVideoBitrate(270, 480, 30, 0.8, 2_000_000), req.Bitrate)
}

func TestCompressVideo_LegacyRotateTag(t *testing.T) {
	rotated := &probe.Result{
		Format: probe.Format{FormatName: "mov,mp4", Duration: "8"},
		Streams: []probe.Stream{{
			CodecType: "video",
			Width:     1280,
			Height:    720,
			Tags:      map[string]string{"rotate": "270"},
		}},
	}
	env := newTestEnv(t, staticProber{result: rotated})
	src := env.file(t, "old-phone.mp4", "video bytes")

	opts := media.DefaultVideoOptions()
	opts.Method = media.MethodManual

	_, err := env.svc.CompressVideo(waitCtx(t), src, opts, "")
	require.NoError(t, err)

	req := env.transcoder.lastVideo
	assert.Equal(t, 270, req.Width)
	assert.Equal(t, 480, req.Height)
}

func TestCompressVideo_ManualUsesCRF(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	src := env.file(t, "clip.mp4", "video bytes")

	opts := media.DefaultVideoOptions()
	opts.Method = media.MethodManual
	opts.Quality = 0.5
	opts.Codec = "vp9"
	opts.OutputFormat = "webm"

	out, err := env.svc.CompressVideo(waitCtx(t), src, opts, "")
	require.NoError(t, err)
	assert.Equal(t, ".webm", filepath.Ext(out))

	req := env.transcoder.lastVideo
	assert.Equal(t, sizing.CRF(50, "vp9"), req.CRF)
	assert.Zero(t, req.Bitrate)
}

func TestCompressVideo_ExplicitBitrateWins(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	src := env.file(t, "clip.mp4", "video bytes")

	opts := media.DefaultVideoOptions()
	opts.Bitrate = 900_000

	_, err := env.svc.CompressVideo(waitCtx(t), src, opts, "")
	require.NoError(t, err)
	assert.Equal(t, 900_000, env.transcoder.lastVideo.Bitrate)
}

func TestCompressVideo_NoVideoTrack(t *testing.T) {
	env := newTestEnv(t, staticProber{result: &probe.Result{
		Format:  probe.Format{Duration: "3"},
		Streams: []probe.Stream{{CodecType: "audio"}},
	}})
	src := env.file(t, "voice.mp4", "audio only")

	_, err := env.svc.CompressVideo(waitCtx(t), src, media.DefaultVideoOptions(), "")
	require.Error(t, err)
	assert.Equal(t, media.CodeCompression, media.CodeOf(err))
	assert.Contains(t, err.Error(), "no video track")
}

func TestCompressVideo_UnreadableIsCompressionError(t *testing.T) {
	env := newTestEnv(t, staticProber{err: probe.ErrUnreadable})
	src := env.file(t, "junk.mp4", "junk")

	_, err := env.svc.CompressVideo(waitCtx(t), src, media.DefaultVideoOptions(), "")
	require.Error(t, err)
	assert.Equal(t, media.CodeCompression, media.CodeOf(err))
	assert.ErrorIs(t, err, probe.ErrUnreadable)
}

func TestCompressVideo_TranscoderFailure(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	env.transcoder.video = func(context.Context, codec.VideoRequest, codec.ProgressFunc) error {
		return errors.New("encoder exited with status 1")
	}
	src := env.file(t, "clip.mp4", "video bytes")

	job, err := env.svc.Start(Request{Kind: media.KindVideo, SourcePath: src, Video: media.DefaultVideoOptions()})
	require.NoError(t, err)
	_, err = job.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, media.CodeCompression, media.CodeOf(err))
	assert.False(t, media.IsCancelled(err))
	assert.Equal(t, StateFailed, job.State())

	require.Len(t, env.recorder.entries, 1)
	assert.Equal(t, "failed", env.recorder.entries[0].State)
	assert.Equal(t, "COMPRESSION_ERROR", env.recorder.entries[0].ErrorCode)
}

func TestCompressVideo_Timeout(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	env.transcoder.video = blockUntilCancelled
	src := env.file(t, "clip.mp4", "video bytes")

	job, err := env.svc.Start(Request{Kind: media.KindVideo, SourcePath: src, Video: media.DefaultVideoOptions(), Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = job.Wait(waitCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, media.CodeCompression, media.CodeOf(err))
	assert.False(t, media.IsCancelled(err))
	assert.Equal(t, StateFailed, job.State())
}

func TestCompressVideo_DuplicateJobID(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	env.transcoder.video = blockUntilCancelled
	src := env.file(t, "clip.mp4", "video bytes")

	req := Request{JobID: "dup", Kind: media.KindVideo, SourcePath: src, Video: media.DefaultVideoOptions()}
	first, err := env.svc.Start(req)
	require.NoError(t, err)

	_, err = env.svc.Start(req)
	assert.Equal(t, media.CodeInvalidArguments, media.CodeOf(err))

	require.True(t, env.svc.Cancel("dup"))
	_, err = first.Wait(waitCtx(t))
	assert.True(t, media.IsCancelled(err))
}

func TestCompressVideo_ContextCancelsJob(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	started := make(chan struct{})
	env.transcoder.video = func(ctx context.Context, req codec.VideoRequest, p codec.ProgressFunc) error {
		close(started)
		return blockUntilCancelled(ctx, req, p)
	}
	src := env.file(t, "clip.mp4", "video bytes")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := env.svc.CompressVideo(ctx, src, media.DefaultVideoOptions(), "")
	assert.True(t, media.IsCancelled(err))
}

func TestCompressAudio(t *testing.T) {
	env := newTestEnv(t, staticProber{result: &probe.Result{
		Format:  probe.Format{Duration: "200.5", BitRate: "320000"},
		Streams: []probe.Stream{{CodecType: "audio", SampleRate: "48000", Channels: 2}},
	}})
	src := env.file(t, "song.wav", "pcm")

	out, err := env.svc.CompressAudio(waitCtx(t), src, media.DefaultAudioOptions(), "")
	require.NoError(t, err)
	assert.Equal(t, env.allocator.Dir(media.CategoryAudio), filepath.Dir(out))
	assert.Equal(t, ".m4a", filepath.Ext(out))

	req := env.transcoder.lastAudio
	assert.Equal(t, sizing.AudioBitrate("medium"), req.Bitrate)
	assert.Equal(t, 44100, req.SampleRate)
	assert.Equal(t, 2, req.Channels)
	assert.Equal(t, "aac", req.Codec)
	assert.InDelta(t, 200.5, req.DurationSeconds, 1e-9)
}

func TestCompressAudio_NotFound(t *testing.T) {
	env := newTestEnv(t, staticProber{})

	_, err := env.svc.CompressAudio(waitCtx(t), filepath.Join(env.dir, "nope.mp3"), media.DefaultAudioOptions(), "")
	assert.True(t, media.IsNotFound(err))
}

func TestConcurrentJobsGetDistinctOutputs(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.image(t, "a.png", 200, 100)

	var wg sync.WaitGroup
	outputs := make([]string, 6)
	errs := make([]error, 6)
	for i := range outputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i], errs[i] = env.svc.CompressImage(waitCtx(t), src, media.DefaultImageOptions(), "")
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, out := range outputs {
		require.NoError(t, errs[i])
		assert.False(t, seen[out], "duplicate output %s", out)
		seen[out] = true
	}
	assert.Equal(t, int64(6), env.svc.Statistics().Snapshot().JobsCompleted)

	env.recorder.mu.Lock()
	defer env.recorder.mu.Unlock()
	assert.Len(t, env.recorder.entries, 6)
}

func TestCreateVideoThumbnail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.frames.frame = imaging.New(1920, 1080, color.NRGBA{G: 255, A: 255})
	src := env.file(t, "clip.mp4", "video bytes")

	out, err := env.svc.CreateVideoThumbnail(waitCtx(t), src, 1_500_000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, env.frames.at)
	assert.Equal(t, env.allocator.Dir(media.CategoryThumbnails), filepath.Dir(out))
	assert.True(t, strings.HasPrefix(filepath.Base(out), "thumbnail_"))

	img, err := imaging.Open(out)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())
}

func TestCreateVideoThumbnail_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.frames.err = codec.ErrNoFrame
	src := env.file(t, "clip.mp4", "video bytes")

	_, err := env.svc.CreateVideoThumbnail(waitCtx(t), src, 0, 100, 100)
	assert.Equal(t, media.CodeThumbnail, media.CodeOf(err))
	assert.ErrorIs(t, err, codec.ErrNoFrame)

	_, err = env.svc.CreateVideoThumbnail(waitCtx(t), filepath.Join(env.dir, "gone.mp4"), 0, 100, 100)
	assert.True(t, media.IsNotFound(err))
}

func TestGenerateFilePath(t *testing.T) {
	env := newTestEnv(t, nil)

	path, err := env.svc.GenerateFilePath("")
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "temp_"))
	assert.DirExists(t, env.allocator.Dir(media.CategoryTemp))

	other, err := env.svc.GenerateFilePath(".JPEG")
	require.NoError(t, err)
	assert.Equal(t, ".jpg", filepath.Ext(other))
	assert.NotEqual(t, path, other)
}

func TestFileSizeAndRealPath(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.file(t, "five.bin", "12345")

	size, err := env.svc.FileSize(src)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	_, err = env.svc.FileSize(filepath.Join(env.dir, "none"))
	assert.True(t, media.IsNotFound(err))

	link := filepath.Join(env.dir, "link.bin")
	require.NoError(t, os.Symlink(src, link))
	resolved, err := env.svc.RealPath(link)
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(src)
	require.NoError(t, err)
	assert.Equal(t, want, resolved)
}

func TestClearCache(t *testing.T) {
	env := newTestEnv(t, nil)
	src := env.image(t, "a.png", 40, 40)

	out, err := env.svc.CompressImage(waitCtx(t), src, media.DefaultImageOptions(), "")
	require.NoError(t, err)
	_, err = env.svc.ImageMetadata(waitCtx(t), src)
	require.NoError(t, err)
	require.Equal(t, 1, env.svc.ExtractorStats().Size)

	require.NoError(t, env.svc.ClearCache())
	assert.NoFileExists(t, out)
	assert.NoDirExists(t, env.allocator.Dir(media.CategoryImages))
	assert.Equal(t, 0, env.svc.ExtractorStats().Size)
	assert.Equal(t, int64(1), env.svc.Statistics().Snapshot().CacheClears)
}

func TestMetadataQueries(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	img := env.image(t, "a.png", 30, 20)
	vid := env.file(t, "clip.mp4", "video bytes")

	im, err := env.svc.ImageMetadata(waitCtx(t), img)
	require.NoError(t, err)
	assert.Equal(t, 30, im.Width)
	assert.Equal(t, 20, im.Height)

	vm, err := env.svc.Metadata(waitCtx(t), vid, media.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, 1920, vm.(media.VideoMetadata).Width)

	_, err = env.svc.AudioMetadata(waitCtx(t), filepath.Join(env.dir, "none.mp3"))
	assert.True(t, media.IsNotFound(err))
	assert.Equal(t, int64(3), env.svc.Statistics().Snapshot().MetadataQueries)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	env := newTestEnv(t, staticProber{result: hdVideo})
	env.transcoder.video = blockUntilCancelled
	src := env.file(t, "clip.mp4", "video bytes")

	job, err := env.svc.Start(Request{Kind: media.KindVideo, SourcePath: src, Video: media.DefaultVideoOptions()})
	require.NoError(t, err)

	require.NoError(t, env.svc.Shutdown(waitCtx(t)))
	assert.Equal(t, StateCancelled, job.State())

	_, err = env.svc.Start(Request{Kind: media.KindVideo, SourcePath: src, Video: media.DefaultVideoOptions()})
	assert.Error(t, err)
}

func TestAvailability_ReportsMissingBinaries(t *testing.T) {
	svc, err := NewService(Options{
		FFmpegPath:  "definitely-not-ffmpeg-binary",
		FFprobePath: "definitely-not-ffprobe-binary",
	}, Dependencies{Allocator: cache.NewAllocator(t.TempDir())})
	require.NoError(t, err)

	a := svc.Availability(context.Background())
	assert.False(t, a.Available)
	assert.False(t, a.FFmpeg)
	assert.False(t, a.FFprobe)
	assert.Positive(t, a.FreeDiskBytes)
	assert.Len(t, a.Problems, 2)
}
