package compressor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"media-compressor-go/internal/media"
)

// Job is one in-flight compression. All fields set after creation are
// guarded by mu; state only leaves Running through Registry.finish.
type Job struct {
	id     string
	kind   media.Kind
	source string

	ctx    context.Context
	cancel context.CancelFunc

	// set by Registry.Cancel while holding the registry lock
	cancelRequested atomic.Bool

	mu           sync.Mutex
	state        State
	outputPath   string
	err          error
	lastProgress float64
	bytesIn      int64
	bytesOut     int64
	startedAt    time.Time
	finishedAt   time.Time

	done chan struct{}
}

func newJob(parent context.Context, id string, kind media.Kind, source string, timeout time.Duration) *Job {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	return &Job{
		id:        id,
		kind:      kind,
		source:    source,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateRunning,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Kind returns the media kind being compressed.
func (j *Job) Kind() media.Kind { return j.kind }

// SourcePath returns the input file.
func (j *Job) SourcePath() string { return j.source }

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job is terminal and its final progress event,
// if any, has been handed to the sink.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends. It returns the output path
// of a completed job, or the job's error.
func (j *Job) Wait(ctx context.Context) (string, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outputPath, j.err
}

// Result returns a snapshot of the job.
func (j *Job) Result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()

	r := Result{
		JobID:          j.id,
		Kind:           j.kind.String(),
		SourcePath:     j.source,
		OutputPath:     j.outputPath,
		State:          j.state,
		Error:          j.err,
		OriginalSize:   j.bytesIn,
		CompressedSize: j.bytesOut,
		StartedAt:      j.startedAt,
		FinishedAt:     j.finishedAt,
	}
	if j.err != nil {
		r.ErrorCode = string(media.CodeOf(j.err))
		r.ErrorMessage = j.err.Error()
	}
	return r
}

// Progress returns the last relayed percentage.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastProgress
}

// advance records p if it moves progress forward. Values at or above 100
// are held back for the completion path.
func (j *Job) advance(p float64) (float64, bool) {
	if j.cancelRequested.Load() {
		return 0, false
	}
	if math.IsNaN(p) {
		return 0, false
	}
	if p < 0 {
		p = 0
	}
	if p >= 100 {
		return 0, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning || p < j.lastProgress {
		return 0, false
	}
	j.lastProgress = p
	return p, true
}

func (j *Job) setSizes(in, out int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if in > 0 {
		j.bytesIn = in
	}
	if out > 0 {
		j.bytesOut = out
	}
}
