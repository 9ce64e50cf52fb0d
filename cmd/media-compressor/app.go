package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"media-compressor-go/internal/cache"
	"media-compressor-go/internal/codec"
	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/extractor"
	"media-compressor-go/internal/history"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/progress"
	"media-compressor-go/internal/statistics"
	"media-compressor-go/internal/web"
)

// app holds the wired service for one command invocation.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	svc    *compressor.Service
	store  *history.Store
	copier *codec.ExiftoolCopier
}

func newApp(cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, copier: codec.NewExiftoolCopier()}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.DatabasePath)
		if err != nil {
			log.WithError(err).Warn("Job history disabled")
		} else {
			a.store = store
		}
	}

	ffmpeg := codec.NewFFmpeg(cfg.FFmpeg.FFmpegPath, cfg.FFmpeg.Preset, log)
	deps := compressor.Dependencies{
		Allocator:  cache.NewAllocator(cfg.CacheDirectory),
		Extractor:  extractor.NewMediaExtractor(probe.New(cfg.FFmpeg.FFprobePath), log),
		Images:     codec.NewImagingCodec(a.copier, log),
		Transcoder: ffmpeg,
		Frames:     ffmpeg,
		Sink:       progress.NewSink(cfg.Performance.ProgressBuffer),
		Stats:      statistics.NewStatistics(),
		Logger:     log,
	}
	if a.store != nil {
		deps.History = a.store
	}

	svc, err := compressor.NewService(compressor.Options{
		WorkerThreads:        cfg.Performance.WorkerThreads,
		FinalProgressTimeout: cfg.Performance.FinalProgressTimeout,
		JobTimeout:           cfg.Performance.JobTimeout,
		MinFreeDiskMB:        cfg.Performance.MinFreeDiskMB,
		FFmpegPath:           cfg.FFmpeg.FFmpegPath,
		FFprobePath:          cfg.FFmpeg.FFprobePath,
	}, deps)
	if err != nil {
		a.closeStore()
		a.copier.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

// historyReader returns nil when the journal is disabled.
func (a *app) historyReader() web.HistoryReader {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := a.svc.Shutdown(ctx)
	if cerr := a.copier.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close exiftool: %w", cerr))
	}
	if cerr := a.closeStore(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (a *app) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// runJob starts req and prints its progress to stderr until it finishes.
// Ctrl+C cancels the job.
func (a *app) runJob(req compressor.Request) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	sink := a.svc.Sink()
	sub := sink.SubscribeJob(req.JobID)
	defer sink.Unsubscribe(sub)

	job, err := a.svc.Start(req)
	if err != nil {
		return err
	}

	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			printProgress(ev)
		case <-job.Done():
			done = true
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nCancelling...")
			a.svc.Cancel(job.ID())
			<-job.Done()
			done = true
		}
	}
	for pending := true; pending; {
		select {
		case ev := <-sub.Events():
			printProgress(ev)
		default:
			pending = false
		}
	}
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}

	res := job.Result()
	if res.Error != nil {
		return res.Error
	}

	fmt.Println(res.OutputPath)
	if !quiet {
		fmt.Fprintf(os.Stderr, "%s -> %s (%.1f%% saved)\n",
			statistics.FormatBytes(res.OriginalSize),
			statistics.FormatBytes(res.CompressedSize),
			res.PercentageSaved())
	}
	return nil
}

func printProgress(ev progress.Event) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s %5.1f%%", ev.JobID, ev.Percentage)
}
