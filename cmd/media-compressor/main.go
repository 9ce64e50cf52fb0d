package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/web"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	port    int
	jobID   string
	timeout time.Duration

	cfg    *config.Config
	cfgErr error
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "media-compressor",
	Short: "Compress images, video and audio into a managed cache",
	Long: `media-compressor resizes and re-encodes media files as cancellable,
progress-reporting jobs. Outputs are written under per-category cache
directories (compressed_images, compressed_videos, compressed_audio,
thumbnails, temp) which can be cleared at any time.

Video and audio work is delegated to ffmpeg/ffprobe; images are processed
in-process.`,
	SilenceUsage: true,
}

// serveCmd starts the HTTP and websocket API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the JSON API and the websocket progress stream.
Connect to /ws for the global progress stream (the most recent subscriber
wins) or /ws?job=<id> to follow a single job.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var imageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Compress an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := imageInput(cmd).Resolve()
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			return a.runJob(compressor.Request{
				JobID: jobID, Kind: media.KindImage, SourcePath: args[0], Image: opts, Timeout: timeout,
			})
		})
	},
}

var videoCmd = &cobra.Command{
	Use:   "video <file>",
	Short: "Compress a video with ffmpeg",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := videoInput(cmd).Resolve()
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			return a.runJob(compressor.Request{
				JobID: jobID, Kind: media.KindVideo, SourcePath: args[0], Video: opts, Timeout: timeout,
			})
		})
	},
}

var audioCmd = &cobra.Command{
	Use:   "audio <file>",
	Short: "Compress an audio file with ffmpeg",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := audioInput(cmd).Resolve()
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			return a.runJob(compressor.Request{
				JobID: jobID, Kind: media.KindAudio, SourcePath: args[0], Audio: opts, Timeout: timeout,
			})
		})
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata <image|video|audio> <file>",
	Short: "Print media metadata as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := media.ParseKind(args[0])
		if err != nil {
			return err
		}
		return withApp(func(a *app) error {
			meta, err := a.svc.Metadata(cmd.Context(), args[1], kind)
			if err != nil {
				return err
			}
			return printJSON(meta)
		})
	},
}

var thumbnailCmd = &cobra.Command{
	Use:   "thumbnail <video>",
	Short: "Write a JPEG thumbnail of a video frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeUs, _ := cmd.Flags().GetInt64("time-us")
		maxWidth, _ := cmd.Flags().GetInt("max-width")
		maxHeight, _ := cmd.Flags().GetInt("max-height")
		return withApp(func(a *app) error {
			out, err := a.svc.CreateVideoThumbnail(cmd.Context(), args[0], timeUs, maxWidth, maxHeight)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path [extension]",
	Short: "Allocate a fresh file path in the temp cache directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ext := ""
		if len(args) == 1 {
			ext = args[0]
		}
		return withApp(func(a *app) error {
			path, err := a.svc.GenerateFilePath(ext)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		})
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size <file>",
	Short: "Print the size of a file in bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			size, err := a.svc.FileSize(args[0])
			if err != nil {
				return err
			}
			fmt.Println(size)
			return nil
		})
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete every cache category directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.svc.ClearCache(); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(os.Stderr, "Cleared %s\n", a.cfg.CacheDirectory)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tool availability, cache usage and job history counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			usage, err := a.svc.CacheUsage()
			if err != nil {
				return err
			}
			status := map[string]interface{}{
				"availability":   a.svc.Availability(cmd.Context()),
				"cacheDirectory": a.cfg.CacheDirectory,
				"cacheUsage":     usage,
			}
			if h := a.historyReader(); h != nil {
				counts, err := h.CountByState(cmd.Context())
				if err != nil {
					return err
				}
				status["history"] = counts
			}
			return printJSON(status)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently finished jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(a *app) error {
			h := a.historyReader()
			if h == nil {
				return fmt.Errorf("job history is disabled")
			}
			entries, err := h.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(entries)
		})
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the API server on (default from config)")

	for _, cmd := range []*cobra.Command{imageCmd, videoCmd, audioCmd} {
		cmd.Flags().StringVar(&jobID, "job-id", "", "job id (generated when empty)")
		cmd.Flags().DurationVar(&timeout, "timeout", 0, "fail the job after this long (0 uses the config)")
		cmd.Flags().String("format", "", "output format")
		cmd.Flags().Bool("keep-metadata", false, "carry descriptive metadata into the output")
	}
	for _, cmd := range []*cobra.Command{imageCmd, videoCmd} {
		cmd.Flags().Float64("quality", 0.8, "quality from 0.0 to 1.0")
		cmd.Flags().Int("max-width", 0, "maximum output width")
		cmd.Flags().Int("max-height", 0, "maximum output height")
		cmd.Flags().String("method", "auto", "sizing method: auto or manual")
	}

	videoCmd.Flags().Int("bitrate", 0, "target video bitrate in bits per second")
	videoCmd.Flags().Int("frame-rate", 0, "output frame rate")
	videoCmd.Flags().String("codec", "h264", "video codec: h264, h265, vp9 or av1")
	videoCmd.Flags().Bool("no-audio", false, "drop the audio track")
	videoCmd.Flags().String("audio-codec", "aac", "audio codec")

	audioCmd.Flags().String("quality", "medium", "quality: low, medium or high")
	audioCmd.Flags().Int("bitrate", 0, "bitrate in bits per second (overrides quality)")
	audioCmd.Flags().Int("sample-rate", 44100, "sample rate in Hz")
	audioCmd.Flags().Int("channels", 2, "number of channels")
	audioCmd.Flags().String("codec", "aac", "audio codec")

	thumbnailCmd.Flags().Int64("time-us", 0, "frame position in microseconds")
	thumbnailCmd.Flags().Int("max-width", compressor.DefaultThumbnailSize, "maximum thumbnail width")
	thumbnailCmd.Flags().Int("max-height", compressor.DefaultThumbnailSize, "maximum thumbnail height")

	historyCmd.Flags().Int("limit", 20, "number of entries to show")

	rootCmd.AddCommand(serveCmd, imageCmd, videoCmd, audioCmd, metadataCmd, thumbnailCmd,
		pathCmd, sizeCmd, clearCacheCmd, statusCmd, historyCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	cfg, cfgErr = config.LoadConfig(cfgFile)
}

// withApp wires the service, runs fn and shuts everything down.
func withApp(fn func(a *app) error) error {
	if cfgErr != nil {
		return fmt.Errorf("failed to load config: %w", cfgErr)
	}

	a, err := newApp(cfg, setupLogger(cfg))
	if err != nil {
		return err
	}

	err = fn(a)
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	if !cmd.Flags().Changed("port") && cfgErr == nil {
		port = cfg.Server.Port
	}

	return withApp(func(a *app) error {
		server := web.NewServer(a.svc, a.historyReader(), a.log)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			if err := server.Start(port); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		if !quiet {
			fmt.Printf("Media compressor API listening on http://localhost:%d\n", port)
			fmt.Printf("Press Ctrl+C to stop the server\n\n")
		}

		select {
		case <-sigChan:
		case err := <-errChan:
			return fmt.Errorf("server failed: %w", err)
		}
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		fmt.Println("Server stopped gracefully")
		return nil
	})
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.FromSettings(cfg.Logging)
	loggerCfg.Console = loggerCfg.Console && !quiet

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func imageInput(cmd *cobra.Command) media.ImageOptionsInput {
	return media.ImageOptionsInput{
		Quality:      changedFloat(cmd, "quality"),
		MaxWidth:     changedInt(cmd, "max-width"),
		MaxHeight:    changedInt(cmd, "max-height"),
		OutputFormat: changedString(cmd, "format"),
		KeepMetadata: changedBool(cmd, "keep-metadata"),
		Method:       changedString(cmd, "method"),
	}
}

func videoInput(cmd *cobra.Command) media.VideoOptionsInput {
	in := media.VideoOptionsInput{
		Quality:      changedFloat(cmd, "quality"),
		MaxWidth:     changedInt(cmd, "max-width"),
		MaxHeight:    changedInt(cmd, "max-height"),
		OutputFormat: changedString(cmd, "format"),
		Bitrate:      changedInt(cmd, "bitrate"),
		FrameRate:    changedInt(cmd, "frame-rate"),
		Codec:        changedString(cmd, "codec"),
		AudioCodec:   changedString(cmd, "audio-codec"),
		KeepMetadata: changedBool(cmd, "keep-metadata"),
		Method:       changedString(cmd, "method"),
	}
	if noAudio := changedBool(cmd, "no-audio"); noAudio != nil {
		enable := !*noAudio
		in.EnableAudio = &enable
	}
	return in
}

func audioInput(cmd *cobra.Command) media.AudioOptionsInput {
	return media.AudioOptionsInput{
		Quality:      changedString(cmd, "quality"),
		OutputFormat: changedString(cmd, "format"),
		SampleRate:   changedInt(cmd, "sample-rate"),
		Channels:     changedInt(cmd, "channels"),
		AudioCodec:   changedString(cmd, "codec"),
		Bitrate:      changedInt(cmd, "bitrate"),
		KeepMetadata: changedBool(cmd, "keep-metadata"),
	}
}

// changed* return nil for flags the user did not set, so option defaults apply.
func changedFloat(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

func changedInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func changedBool(cmd *cobra.Command, name string) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetBool(name)
	return &v
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
