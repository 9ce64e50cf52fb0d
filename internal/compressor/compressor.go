package compressor

import (
	"context"
	"time"

	"media-compressor-go/internal/history"
	"media-compressor-go/internal/media"
)

// State is the lifecycle state of a compression job.
type State int

const (
	StateRunning State = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s != StateRunning
}

// Request describes one compression. Only the options matching Kind are read.
// An empty JobID is replaced by a generated one.
type Request struct {
	JobID      string
	Kind       media.Kind
	SourcePath string
	Image      media.ImageOptions
	Video      media.VideoOptions
	Audio      media.AudioOptions
	// Timeout bounds the whole job. Zero falls back to the service default.
	Timeout time.Duration
}

func (r Request) validate() error {
	if r.SourcePath == "" {
		return media.Errorf(media.CodeInvalidArguments, "start", "", "source path is required")
	}
	switch r.Kind {
	case media.KindImage:
		return r.Image.Validate()
	case media.KindVideo:
		return r.Video.Validate()
	case media.KindAudio:
		return r.Audio.Validate()
	default:
		return media.Errorf(media.CodeInvalidArguments, "start", r.SourcePath, "unsupported media kind %q", r.Kind)
	}
}

// Result describes a job. Error is nil unless State is Failed or Cancelled.
type Result struct {
	JobID          string    `json:"jobId"`
	Kind           string    `json:"kind"`
	SourcePath     string    `json:"sourcePath"`
	OutputPath     string    `json:"outputPath,omitempty"`
	State          State     `json:"state"`
	Error          error     `json:"-"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	OriginalSize   int64     `json:"originalSize"`
	CompressedSize int64     `json:"compressedSize"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt,omitzero"`
}

// PercentageSaved returns how much smaller the output is than the source.
func (r Result) PercentageSaved() float64 {
	if r.OriginalSize <= 0 || r.CompressedSize <= 0 {
		return 0
	}
	return 100 * float64(r.OriginalSize-r.CompressedSize) / float64(r.OriginalSize)
}

func (r Result) historyEntry() history.Entry {
	return history.Entry{
		ID:           r.JobID,
		Kind:         r.Kind,
		SourcePath:   r.SourcePath,
		OutputPath:   r.OutputPath,
		State:        r.State.String(),
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		BytesIn:      r.OriginalSize,
		BytesOut:     r.CompressedSize,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

// Compressor starts and cancels compression jobs.
type Compressor interface {
	// Start registers a job and runs it in the background.
	Start(req Request) (*Job, error)
	// Cancel signals the job and removes it from the registry. It reports
	// whether a running job with that id was found.
	Cancel(jobID string) bool
}

// Recorder persists terminal job outcomes.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
}
