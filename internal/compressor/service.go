package compressor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/cache"
	"media-compressor-go/internal/codec"
	"media-compressor-go/internal/extractor"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/progress"
	"media-compressor-go/internal/sizing"
	"media-compressor-go/internal/statistics"
)

// DefaultThumbnailSize is used for a thumbnail bound left at zero.
const DefaultThumbnailSize = 320

// Options tune a Service.
type Options struct {
	WorkerThreads        int
	FinalProgressTimeout time.Duration
	JobTimeout           time.Duration // 0 disables
	MinFreeDiskMB        uint64
	FFmpegPath           string
	FFprobePath          string
}

// Dependencies are the collaborators a Service drives. Allocator is
// required; a nil codec makes the operations that need it fail.
type Dependencies struct {
	Allocator  *cache.Allocator
	Extractor  extractor.CachedMetadataExtractor
	Images     codec.ImageCodec
	Transcoder codec.Transcoder
	Frames     codec.FrameExtractor
	Sink       *progress.Sink
	Stats      *statistics.Statistics
	History    Recorder
	Logger     *logrus.Logger
}

// Service runs compression jobs and the media queries around them.
type Service struct {
	opts     Options
	registry *Registry

	allocator  *cache.Allocator
	extractor  extractor.CachedMetadataExtractor
	images     codec.ImageCodec
	transcoder codec.Transcoder
	frames     codec.FrameExtractor
	sink       *progress.Sink
	stats      *statistics.Statistics
	history    Recorder
	logger     *logrus.Logger

	workerPool chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewService builds a Service. Missing optional dependencies get defaults.
func NewService(opts Options, deps Dependencies) (*Service, error) {
	if deps.Allocator == nil {
		return nil, errors.New("compressor: allocator is required")
	}
	if opts.WorkerThreads <= 0 {
		opts.WorkerThreads = 4
	}
	if opts.FinalProgressTimeout <= 0 {
		opts.FinalProgressTimeout = 5 * time.Second
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if deps.Sink == nil {
		deps.Sink = progress.NewSink(progress.DefaultBuffer)
	}
	if deps.Stats == nil {
		deps.Stats = statistics.NewStatistics()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.NewMediaExtractor(nil, deps.Logger)
	}

	return &Service{
		opts:       opts,
		registry:   NewRegistry(),
		allocator:  deps.Allocator,
		extractor:  deps.Extractor,
		images:     deps.Images,
		transcoder: deps.Transcoder,
		frames:     deps.Frames,
		sink:       deps.Sink,
		stats:      deps.Stats,
		history:    deps.History,
		logger:     deps.Logger,
		workerPool: make(chan struct{}, opts.WorkerThreads),
	}, nil
}

// Sink returns the progress sink jobs publish to.
func (s *Service) Sink() *progress.Sink { return s.sink }

// Statistics returns the process counters.
func (s *Service) Statistics() *statistics.Statistics { return s.stats }

// Registry returns the running-job registry.
func (s *Service) Registry() *Registry { return s.registry }

// Start validates req, registers a job and runs it in the background.
func (s *Service) Start(req Request) (*Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	id := req.JobID
	if id == "" {
		id = uuid.NewString()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.JobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, media.Errorf(media.CodeCompression, "start", req.SourcePath, "service is shut down")
	}

	job := newJob(context.Background(), id, req.Kind, req.SourcePath, timeout)
	if err := s.registry.Register(job); err != nil {
		job.cancel()
		return nil, err
	}

	s.stats.JobStarted(req.Kind.String())
	logger.WithJob(s.logger, job.id, job.kind.String()).
		WithField("file", req.SourcePath).
		Info("Job started")

	s.wg.Add(1)
	go s.run(job, req)
	return job, nil
}

// Cancel signals the job with the given id. It reports whether the job was
// running; cancelling an unknown id is not an error.
func (s *Service) Cancel(jobID string) bool {
	found := s.registry.Cancel(jobID)
	logger.WithOperation(s.logger, "cancel").
		WithFields(logrus.Fields{"job_id": jobID, "found": found}).
		Info("Cancellation requested")
	return found
}

// CancelAll cancels every running job.
func (s *Service) CancelAll() int {
	n := s.registry.CancelAll()
	if n > 0 {
		logger.WithOperation(s.logger, "cancel").Infof("Cancelled %d running jobs", n)
	}
	return n
}

// Job returns the running job with the given id.
func (s *Service) Job(jobID string) (*Job, bool) {
	return s.registry.Get(jobID)
}

// Jobs returns snapshots of the running jobs.
func (s *Service) Jobs() []Result {
	jobs := s.registry.Jobs()
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, job.Result())
	}
	return results
}

// CompressImage compresses an image and waits for the result. If ctx ends
// first the job is cancelled.
func (s *Service) CompressImage(ctx context.Context, path string, opts media.ImageOptions, jobID string) (string, error) {
	return s.compress(ctx, Request{JobID: jobID, Kind: media.KindImage, SourcePath: path, Image: opts})
}

// CompressVideo compresses a video and waits for the result.
func (s *Service) CompressVideo(ctx context.Context, path string, opts media.VideoOptions, jobID string) (string, error) {
	return s.compress(ctx, Request{JobID: jobID, Kind: media.KindVideo, SourcePath: path, Video: opts})
}

// CompressAudio compresses an audio file and waits for the result.
func (s *Service) CompressAudio(ctx context.Context, path string, opts media.AudioOptions, jobID string) (string, error) {
	return s.compress(ctx, Request{JobID: jobID, Kind: media.KindAudio, SourcePath: path, Audio: opts})
}

func (s *Service) compress(ctx context.Context, req Request) (string, error) {
	job, err := s.Start(req)
	if err != nil {
		return "", err
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		s.Cancel(job.id)
		<-job.Done()
	}
	return job.Wait(context.Background())
}

func (s *Service) run(job *Job, req Request) {
	defer s.wg.Done()
	defer job.cancel()

	var out outcome
	select {
	case s.workerPool <- struct{}{}:
		out.output, out.err = s.execute(job, req)
		<-s.workerPool
	case <-job.ctx.Done():
		out.err = s.interrupted(job, "queue", job.ctx.Err())
	}

	s.complete(job, out)
}

func (s *Service) execute(job *Job, req Request) (string, error) {
	switch req.Kind {
	case media.KindImage:
		return s.compressImage(job, req.Image)
	case media.KindVideo:
		return s.compressVideo(job, req.Video)
	case media.KindAudio:
		return s.compressAudio(job, req.Audio)
	default:
		return "", media.Errorf(media.CodeInvalidArguments, "compress", job.source, "unsupported media kind %q", req.Kind)
	}
}

func (s *Service) compressImage(job *Job, opts media.ImageOptions) (string, error) {
	const op = "compress image"
	ctx := job.ctx

	info, err := cache.StatSource(op, job.source)
	if err != nil {
		return "", err
	}
	job.setSizes(info.Size(), 0)
	if s.images == nil {
		return "", media.Errorf(media.CodeCompression, op, job.source, "no image codec configured")
	}
	if err := s.checkpoint(job, op); err != nil {
		return "", err
	}

	width, height, err := s.images.DecodeConfig(ctx, job.source)
	if err != nil {
		if ctx.Err() != nil {
			return "", s.interrupted(job, op, err)
		}
		return "", media.NewError(media.CodeDecode, op, job.source, err)
	}

	var targetW, targetH, quality int
	if opts.Method == media.MethodManual {
		targetW, targetH = sizing.ManualDimensions(width, height, opts.MaxWidth, opts.MaxHeight)
		quality = sizing.ScaleToPercent(opts.Quality)
	} else {
		targetW, targetH = sizing.AutoDimensions(width, height)
		quality = sizing.AutoQuality(sizing.EstimateBufferSize(targetW, targetH))
	}
	if targetW <= 0 || targetH <= 0 {
		return "", media.Errorf(media.CodeDecode, op, job.source, "invalid source dimensions %dx%d", width, height)
	}

	logger.WithJob(s.logger, job.id, job.kind.String()).WithFields(logrus.Fields{
		"source_width":  width,
		"source_height": height,
		"target_width":  targetW,
		"target_height": targetH,
		"quality":       quality,
	}).Debug("Image target computed")

	if err := s.checkpoint(job, op); err != nil {
		return "", err
	}

	output, err := s.allocator.Allocate(media.CategoryImages, string(opts.OutputFormat))
	if err != nil {
		return "", err
	}

	err = s.images.ResizeEncode(ctx, codec.ImageRequest{
		Source:       job.source,
		Output:       output,
		Width:        targetW,
		Height:       targetH,
		Quality:      sizing.PercentToScale(quality),
		Format:       opts.OutputFormat,
		KeepMetadata: opts.KeepMetadata,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", s.interrupted(job, op, err)
		case errors.Is(err, codec.ErrDecode):
			return "", media.NewError(media.CodeDecode, op, job.source, err)
		default:
			return "", media.NewError(media.CodeCompression, op, job.source, err)
		}
	}
	return output, nil
}

func (s *Service) compressVideo(job *Job, opts media.VideoOptions) (string, error) {
	const op = "compress video"
	ctx := job.ctx

	info, err := cache.StatSource(op, job.source)
	if err != nil {
		return "", err
	}
	job.setSizes(info.Size(), 0)
	if s.transcoder == nil {
		return "", media.Errorf(media.CodeCompression, op, job.source, "no transcoder configured")
	}

	meta, err := s.extractor.VideoMetadata(ctx, job.source)
	if err != nil {
		return "", s.compressionError(job, op, err)
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return "", media.Errorf(media.CodeCompression, op, job.source, "no video track")
	}
	if err := s.checkpoint(job, op); err != nil {
		return "", err
	}

	// ffmpeg applies the display rotation before scaling.
	width, height := meta.DisplaySize()
	targetW, targetH := sizing.ManualDimensions(width, height, opts.MaxWidth, opts.MaxHeight)

	req := codec.VideoRequest{
		Source:          job.source,
		Width:           targetW,
		Height:          targetH,
		Codec:           opts.Codec,
		Bitrate:         opts.Bitrate,
		FrameRate:       opts.FrameRate,
		EnableAudio:     opts.EnableAudio,
		AudioCodec:      opts.AudioCodec,
		KeepMetadata:    opts.KeepMetadata,
		DurationSeconds: meta.DurationSeconds,
	}
	if req.Bitrate <= 0 {
		if opts.Method == media.MethodManual {
			req.CRF = sizing.CRF(sizing.ScaleToPercent(opts.Quality), opts.Codec)
		} else {
			fps := opts.FrameRate
			if fps <= 0 {
				fps = int(math.Round(meta.FrameRate))
			}
			req.Bitrate = sizing.AutoVideoBitrate(targetW, targetH, fps, opts.Quality, meta.BitrateBps)
		}
	}

	req.Output, err = s.allocator.Allocate(media.CategoryVideos, opts.OutputFormat)
	if err != nil {
		return "", err
	}

	logger.WithJob(s.logger, job.id, job.kind.String()).WithFields(logrus.Fields{
		"source_width":  width,
		"source_height": height,
		"rotation":      meta.Rotation,
		"target_width":  targetW,
		"target_height": targetH,
		"crf":           req.CRF,
		"bitrate":       req.Bitrate,
	}).Debug("Video target computed")

	if err := s.transcoder.TranscodeVideo(ctx, req, s.relay(job)); err != nil {
		return "", s.compressionError(job, op, err)
	}
	return req.Output, nil
}

func (s *Service) compressAudio(job *Job, opts media.AudioOptions) (string, error) {
	const op = "compress audio"
	ctx := job.ctx

	info, err := cache.StatSource(op, job.source)
	if err != nil {
		return "", err
	}
	job.setSizes(info.Size(), 0)
	if s.transcoder == nil {
		return "", media.Errorf(media.CodeCompression, op, job.source, "no transcoder configured")
	}

	meta, err := s.extractor.AudioMetadata(ctx, job.source)
	if err != nil {
		return "", s.compressionError(job, op, err)
	}
	if err := s.checkpoint(job, op); err != nil {
		return "", err
	}

	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = sizing.AudioBitrate(string(opts.Quality))
	}

	output, err := s.allocator.Allocate(media.CategoryAudio, opts.OutputFormat)
	if err != nil {
		return "", err
	}

	err = s.transcoder.TranscodeAudio(ctx, codec.AudioRequest{
		Source:          job.source,
		Output:          output,
		Codec:           opts.AudioCodec,
		Bitrate:         bitrate,
		SampleRate:      opts.SampleRate,
		Channels:        opts.Channels,
		KeepMetadata:    opts.KeepMetadata,
		DurationSeconds: meta.DurationSeconds,
	}, s.relay(job))
	if err != nil {
		return "", s.compressionError(job, op, err)
	}
	return output, nil
}

// relay forwards codec progress for job to the sink.
func (s *Service) relay(job *Job) codec.ProgressFunc {
	return func(percent float64) {
		if p, ok := job.advance(percent); ok {
			s.sink.Publish(progress.Event{JobID: job.id, Percentage: p})
		}
	}
}

func (s *Service) checkpoint(job *Job, op string) error {
	if err := job.ctx.Err(); err != nil {
		return s.interrupted(job, op, err)
	}
	return nil
}

// interrupted reports a job whose context ended. A cancelled job's error is
// replaced in Registry.finish; only deadline expiry surfaces from here.
func (s *Service) interrupted(job *Job, op string, err error) error {
	if errors.Is(job.ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return media.NewError(media.CodeCompression, op, job.source, err)
}

func (s *Service) compressionError(job *Job, op string, err error) error {
	if media.IsNotFound(err) {
		return err
	}
	if job.ctx.Err() != nil {
		return s.interrupted(job, op, err)
	}
	return media.NewError(media.CodeCompression, op, job.source, err)
}

func (s *Service) complete(job *Job, out outcome) {
	log := logger.WithJob(s.logger, job.id, job.kind.String())

	state, _ := s.registry.finish(job, out)
	if state == StateCompleted {
		if size, err := cache.FileSize(out.output); err == nil {
			job.setSizes(0, size)
		}
	}
	result := job.Result()

	fields := logrus.Fields{
		"state":    state.String(),
		"duration": result.FinishedAt.Sub(result.StartedAt).String(),
	}
	switch state {
	case StateCompleted:
		s.stats.JobCompleted(result.Kind, result.OriginalSize, result.CompressedSize)
		fields["output"] = result.OutputPath
		log.WithFields(fields).Info("Job completed")
	case StateCancelled:
		s.stats.JobCancelled()
		log.WithFields(fields).Info("Job cancelled")
	default:
		s.stats.JobFailed()
		s.stats.AddError(job.id, job.source, "compress "+result.Kind, result.ErrorMessage)
		fields["error_code"] = result.ErrorCode
		log.WithFields(fields).WithError(result.Error).Warn("Job failed")
	}

	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.history.Record(ctx, result.historyEntry()); err != nil {
			log.WithError(err).Warn("Failed to record job history")
		}
		cancel()
	}

	if state == StateCompleted {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.FinalProgressTimeout)
		if err := s.sink.PublishFinal(ctx, progress.Event{JobID: job.id, Percentage: 100}); err != nil {
			log.WithError(err).Warn("Final progress event not delivered")
		}
		cancel()
	}

	close(job.done)
}

// ImageMetadata returns the metadata of an image file.
func (s *Service) ImageMetadata(ctx context.Context, path string) (media.ImageMetadata, error) {
	s.stats.IncrementMetadataQueries()
	return s.extractor.ImageMetadata(ctx, path)
}

// VideoMetadata returns the metadata of a video file.
func (s *Service) VideoMetadata(ctx context.Context, path string) (media.VideoMetadata, error) {
	s.stats.IncrementMetadataQueries()
	return s.extractor.VideoMetadata(ctx, path)
}

// AudioMetadata returns the metadata of an audio file.
func (s *Service) AudioMetadata(ctx context.Context, path string) (media.AudioMetadata, error) {
	s.stats.IncrementMetadataQueries()
	return s.extractor.AudioMetadata(ctx, path)
}

// Metadata dispatches on kind.
func (s *Service) Metadata(ctx context.Context, path string, kind media.Kind) (media.Metadata, error) {
	s.stats.IncrementMetadataQueries()
	return s.extractor.Extract(ctx, path, kind)
}

// ExtractorStats returns the metadata cache counters.
func (s *Service) ExtractorStats() extractor.CacheStats {
	return s.extractor.GetCacheStats()
}

// CreateVideoThumbnail writes a JPEG of the frame at timestampUs, fitted
// inside maxWidth x maxHeight. Zero bounds default to 320 and a negative
// timestamp means the first frame.
func (s *Service) CreateVideoThumbnail(ctx context.Context, path string, timestampUs int64, maxWidth, maxHeight int) (string, error) {
	const op = "thumbnail"

	if _, err := cache.StatSource(op, path); err != nil {
		return "", err
	}
	if s.frames == nil || s.images == nil {
		return "", media.Errorf(media.CodeThumbnail, op, path, "no frame extractor configured")
	}
	if maxWidth <= 0 {
		maxWidth = DefaultThumbnailSize
	}
	if maxHeight <= 0 {
		maxHeight = DefaultThumbnailSize
	}
	timestampUs = max(timestampUs, 0)

	frame, err := s.frames.ExtractFrame(ctx, path, time.Duration(timestampUs)*time.Microsecond)
	if err != nil {
		return "", media.NewError(media.CodeThumbnail, op, path, err)
	}

	output, err := s.allocator.Allocate(media.CategoryThumbnails, "jpg")
	if err != nil {
		return "", media.NewError(media.CodeThumbnail, op, path, err)
	}
	if err := s.images.WriteThumbnail(ctx, frame, output, maxWidth, maxHeight); err != nil {
		return "", media.NewError(media.CodeThumbnail, op, path, err)
	}

	s.stats.IncrementThumbnails()
	logger.WithFile(s.logger, path).WithField("output", output).Debug("Thumbnail created")
	return output, nil
}

// GenerateFilePath allocates a fresh path in the temp category. An empty
// extension means mp4.
func (s *Service) GenerateFilePath(extension string) (string, error) {
	if media.NormalizeExtension(extension) == "" {
		extension = "mp4"
	}
	return s.allocator.Allocate(media.CategoryTemp, extension)
}

// FileSize returns the size in bytes of path.
func (s *Service) FileSize(path string) (int64, error) {
	return cache.FileSize(path)
}

// RealPath resolves path to an absolute path with symlinks evaluated.
func (s *Service) RealPath(path string) (string, error) {
	const op = "real path"
	if _, err := cache.StatSource(op, path); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", media.NewError(media.CodeIO, op, path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", media.NewError(media.CodeIO, op, path, err)
	}
	return resolved, nil
}

// ClearCache deletes every cache category directory and drops cached
// metadata. Running jobs are not cancelled.
func (s *Service) ClearCache() error {
	if err := s.allocator.Clear(); err != nil {
		return err
	}
	s.extractor.ClearCache()
	s.stats.IncrementCacheClears()
	logger.WithOperation(s.logger, "clear cache").WithField("root", s.allocator.Root()).Info("Cache cleared")
	return nil
}

// CacheUsage returns the bytes held by each cache category.
func (s *Service) CacheUsage() (map[media.Category]int64, error) {
	return s.allocator.Usage()
}

// Availability describes whether compression can run on this host.
type Availability struct {
	Available     bool     `json:"available"`
	FFmpeg        bool     `json:"ffmpeg"`
	FFprobe       bool     `json:"ffprobe"`
	FreeDiskBytes uint64   `json:"freeDiskBytes"`
	Problems      []string `json:"problems,omitempty"`
}

// Availability checks the external binaries and the free space of the cache
// volume.
func (s *Service) Availability(ctx context.Context) Availability {
	var a Availability

	if _, err := exec.LookPath(s.opts.FFmpegPath); err == nil {
		a.FFmpeg = true
	} else {
		a.Problems = append(a.Problems, fmt.Sprintf("ffmpeg not found: %s", s.opts.FFmpegPath))
	}
	if _, err := exec.LookPath(s.opts.FFprobePath); err == nil {
		a.FFprobe = true
	} else {
		a.Problems = append(a.Problems, fmt.Sprintf("ffprobe not found: %s", s.opts.FFprobePath))
	}

	root := s.allocator.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		a.Problems = append(a.Problems, fmt.Sprintf("cache directory unavailable: %v", err))
	} else if usage, err := disk.UsageWithContext(ctx, root); err != nil {
		a.Problems = append(a.Problems, fmt.Sprintf("disk usage unavailable: %v", err))
	} else {
		a.FreeDiskBytes = usage.Free
		if minFree := s.opts.MinFreeDiskMB * 1024 * 1024; usage.Free < minFree {
			a.Problems = append(a.Problems, fmt.Sprintf("only %s free on cache volume",
				statistics.FormatBytes(int64(usage.Free))))
		}
	}

	a.Available = len(a.Problems) == 0
	return a
}

// Shutdown stops accepting jobs, cancels the running ones and waits for
// their goroutines until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Compressor = (*Service)(nil)
