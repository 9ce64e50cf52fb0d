package compressor

import (
	"sort"
	"sync"
	"time"

	"media-compressor-go/internal/media"
)

// Registry tracks running jobs by id. A job is present from Register until
// either Cancel removes it or it reaches a terminal state.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Register adds job under its id. An id that is already running is rejected.
func (r *Registry) Register(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.id]; exists {
		return media.Errorf(media.CodeInvalidArguments, "register", "", "job %s is already running", job.id)
	}
	r.jobs[job.id] = job
	return nil
}

// Get returns the running job with the given id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Cancel removes the job and signals its context. The job is marked
// cancelled before the lock is released, so its terminal transition
// resolves to Cancelled even if the work itself already succeeded.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
		job.cancelRequested.Store(true)
	}
	r.mu.Unlock()

	if ok {
		job.cancel()
	}
	return ok
}

// CancelAll cancels every running job and returns how many were signalled.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for id, job := range r.jobs {
		delete(r.jobs, id)
		job.cancelRequested.Store(true)
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
	}
	return len(jobs)
}

// Len returns the number of running jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// IDs returns the ids of running jobs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Jobs returns a snapshot of running jobs ordered by start time.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].startedAt.Before(jobs[k].startedAt)
	})
	return jobs
}

// outcome is what the job's own work produced.
type outcome struct {
	output string
	err    error
}

// finish moves job to its terminal state and drops it from the registry.
// It returns the state that was stored and whether this call made the
// transition; a job that is already terminal is left untouched.
func (r *Registry) finish(job *Job, out outcome) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job.mu.Lock()
	defer job.mu.Unlock()

	if job.state != StateRunning {
		return job.state, false
	}

	switch {
	case job.cancelRequested.Load():
		job.state = StateCancelled
		job.err = media.NewError(media.CodeCompression, "compress", job.source, media.ErrCancelled)
	case out.err != nil:
		job.state = StateFailed
		job.err = out.err
	default:
		job.state = StateCompleted
		job.outputPath = out.output
		job.lastProgress = 100
	}
	job.finishedAt = time.Now()

	if current, ok := r.jobs[job.id]; ok && current == job {
		delete(r.jobs, job.id)
	}
	return job.state, true
}
